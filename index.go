package tinycan

// Index is the packed 32 bit address the Tiny-CAN API uses to name every
// hardware resource: FIFOs, filter slots and interval transmit buffers.
// The zero value addresses the default FIFO of the first channel on the
// first device.
//
// Bit layout (LSB first):
//
//	0..15   SubIndex    slot number within its category, 0 = default FIFO
//	16..19  CanChannel
//	20..23  CanDevice
//	24      TxFlag
//	25      SoftFlag    resource lives in software, not device firmware
//	26..31  reserved
type Index uint32

// IndexBits is the field view of an [Index]. Both representations describe
// the same quantity, Pack and Bits are the only conversion path.
type IndexBits struct {
	SubIndex uint16
	Channel  uint8
	Device   uint8
	Tx       bool
	Soft     bool
}

const (
	indexChannelShift = 16
	indexDeviceShift  = 20
	indexTxFlag       = 1 << 24
	indexSoftFlag     = 1 << 25
)

// Pack converts the field view back into its packed form. Channel and
// device are truncated to their 4 bit range.
func (b IndexBits) Pack() Index {
	packed := Index(b.SubIndex)
	packed |= Index(b.Channel&0xF) << indexChannelShift
	packed |= Index(b.Device&0xF) << indexDeviceShift
	if b.Tx {
		packed |= indexTxFlag
	}
	if b.Soft {
		packed |= indexSoftFlag
	}
	return packed
}

// Bits unpacks the index into its field view. Reserved bits are dropped.
func (i Index) Bits() IndexBits {
	return IndexBits{
		SubIndex: uint16(i & 0xFFFF),
		Channel:  uint8(i>>indexChannelShift) & 0xF,
		Device:   uint8(i>>indexDeviceShift) & 0xF,
		Tx:       i&indexTxFlag != 0,
		Soft:     i&indexSoftFlag != 0,
	}
}

func (i Index) SubIndex() uint16 { return uint16(i & 0xFFFF) }
func (i Index) Channel() uint8   { return uint8(i>>indexChannelShift) & 0xF }
func (i Index) Device() uint8    { return uint8(i>>indexDeviceShift) & 0xF }
func (i Index) Tx() bool         { return i&indexTxFlag != 0 }
func (i Index) Soft() bool       { return i&indexSoftFlag != 0 }

// SlotIndex builds the index addressing a given slot on the default
// channel, the form handed out by the slot allocator.
func SlotIndex(subIndex uint16) Index {
	return IndexBits{SubIndex: subIndex}.Pack()
}
