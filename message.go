package tinycan

import (
	"fmt"
	"strings"
)

// StandardIDMask is the largest 11 bit CAN identifier. Messages with a
// larger identifier are transmitted in extended frame format.
const StandardIDMask uint32 = 0x7FF

// MessageFlags is the packed 32 bit flag word of a [Message].
//
// Bit layout (LSB first):
//
//	0..3   DLC
//	4      TxD       message originates from the host
//	5      reserved
//	6      RTR
//	7      EFF       29 bit identifier
//	8..15  Source
//	16..31 reserved
type MessageFlags uint32

const (
	msgFlagTxD MessageFlags = 1 << 4
	msgFlagRTR MessageFlags = 1 << 6
	msgFlagEFF MessageFlags = 1 << 7
)

func (f MessageFlags) DLC() uint8    { return uint8(f & 0xF) }
func (f MessageFlags) TxD() bool     { return f&msgFlagTxD != 0 }
func (f MessageFlags) RTR() bool     { return f&msgFlagRTR != 0 }
func (f MessageFlags) EFF() bool     { return f&msgFlagEFF != 0 }
func (f MessageFlags) Source() uint8 { return uint8(f >> 8) }

func (f MessageFlags) WithDLC(dlc uint8) MessageFlags {
	return (f &^ 0xF) | MessageFlags(dlc&0xF)
}

func (f MessageFlags) WithSource(source uint8) MessageFlags {
	return (f &^ (0xFF << 8)) | MessageFlags(source)<<8
}

func (f MessageFlags) WithTxD(set bool) MessageFlags { return f.set(msgFlagTxD, set) }
func (f MessageFlags) WithRTR(set bool) MessageFlags { return f.set(msgFlagRTR, set) }
func (f MessageFlags) WithEFF(set bool) MessageFlags { return f.set(msgFlagEFF, set) }

func (f MessageFlags) set(bit MessageFlags, set bool) MessageFlags {
	if set {
		return f | bit
	}
	return f &^ bit
}

// Message mirrors the TCanMsg record of the native API. Sec and USec carry
// the receive timestamp and are only populated on received messages.
type Message struct {
	ID    uint32
	Flags MessageFlags
	Data  [8]byte
	Sec   uint32
	USec  uint32
}

// NewMessage builds a transmit message for the given identifier and
// payload. The DLC always equals len(data), the extended format flag is set
// for identifiers beyond the 11 bit range. More than 8 data bytes is a
// construction error, never a silent truncation.
func NewMessage(id uint32, data []byte) (Message, error) {
	if len(data) > 8 {
		return Message{}, ErrFrameTooLarge
	}
	msg := Message{ID: id}
	copy(msg.Data[:], data)
	msg.Flags = msg.Flags.WithDLC(uint8(len(data))).WithEFF(id > StandardIDMask)
	return msg, nil
}

// FormatMessage renders a message in the canonical diagnostic shape, e.g.
//
//	ID:00000123, DLC:2, TxD:1, RTR:0, EFF:0, Source:0, Data:['0x1', '0x2']
//
// Consumers parse this line, the shape is stable. Only the DLC meaningful
// data bytes are rendered.
func FormatMessage(msg Message) string {
	flags := msg.Flags
	data := make([]string, 0, flags.DLC())
	for _, b := range msg.Data[:flags.DLC()] {
		data = append(data, fmt.Sprintf("'%#x'", b))
	}
	return fmt.Sprintf("ID:%08x, DLC:%d, TxD:%d, RTR:%d, EFF:%d, Source:%d, Data:[%s]",
		msg.ID, flags.DLC(), boolBit(flags.TxD()), boolBit(flags.RTR()), boolBit(flags.EFF()),
		flags.Source(), strings.Join(data, ", "))
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
