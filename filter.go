package tinycan

// FilterFlags is the packed 32 bit flag word of a [Filter].
//
// Bit layout (LSB first):
//
//	0..3   DLC        expected length, only compared with DlcCheck set
//	4..5   reserved
//	6      RTR
//	7      EFF        unimplemented in the vendor library, leave unset
//	8..9   IdMode     0 = simple mask/code comparison
//	10     DlcCheck
//	11     DataCheck
//	12..23 reserved
//	24..27 Type
//	28..29 reserved
//	30     Mode       0 = drop non matching messages, 1 = pass through
//	31     Enable
type FilterFlags uint32

const (
	filterFlagRTR       FilterFlags = 1 << 6
	filterFlagEFF       FilterFlags = 1 << 7
	filterFlagDlcCheck  FilterFlags = 1 << 10
	filterFlagDataCheck FilterFlags = 1 << 11
	filterFlagMode      FilterFlags = 1 << 30
	filterFlagEnable    FilterFlags = 1 << 31
)

func (f FilterFlags) DLC() uint8     { return uint8(f & 0xF) }
func (f FilterFlags) RTR() bool      { return f&filterFlagRTR != 0 }
func (f FilterFlags) EFF() bool      { return f&filterFlagEFF != 0 }
func (f FilterFlags) IDMode() uint8  { return uint8(f>>8) & 0x3 }
func (f FilterFlags) DlcCheck() bool { return f&filterFlagDlcCheck != 0 }
func (f FilterFlags) DataCheck() bool {
	return f&filterFlagDataCheck != 0
}
func (f FilterFlags) Type() uint8       { return uint8(f>>24) & 0xF }
func (f FilterFlags) PassThrough() bool { return f&filterFlagMode != 0 }
func (f FilterFlags) Enabled() bool     { return f&filterFlagEnable != 0 }

func (f FilterFlags) WithDLC(dlc uint8) FilterFlags {
	return (f &^ 0xF) | FilterFlags(dlc&0xF)
}

func (f FilterFlags) WithIDMode(mode uint8) FilterFlags {
	return (f &^ (0x3 << 8)) | FilterFlags(mode&0x3)<<8
}

func (f FilterFlags) WithType(kind uint8) FilterFlags {
	return (f &^ (0xF << 24)) | FilterFlags(kind&0xF)<<24
}

func (f FilterFlags) WithRTR(set bool) FilterFlags       { return f.set(filterFlagRTR, set) }
func (f FilterFlags) WithDlcCheck(set bool) FilterFlags  { return f.set(filterFlagDlcCheck, set) }
func (f FilterFlags) WithDataCheck(set bool) FilterFlags { return f.set(filterFlagDataCheck, set) }
func (f FilterFlags) WithPassThrough(set bool) FilterFlags {
	return f.set(filterFlagMode, set)
}
func (f FilterFlags) WithEnabled(set bool) FilterFlags { return f.set(filterFlagEnable, set) }

func (f FilterFlags) set(bit FilterFlags, set bool) FilterFlags {
	if set {
		return f | bit
	}
	return f &^ bit
}

// Filter mirrors the TMsgFilter record of the native API. A message matches
// when (id XOR Code) AND Mask is zero, plus the optional DLC and RTR checks
// selected in Flags.
type Filter struct {
	Mask  uint32
	Code  uint32
	Flags FilterFlags
}

// Matches reports whether a message passes the filter. Used by software
// backends, hardware filters evaluate this inside the firmware.
func (f Filter) Matches(msg Message) bool {
	if !f.Flags.Enabled() {
		return false
	}
	if (msg.ID^f.Code)&f.Mask != 0 {
		return false
	}
	if f.Flags.DlcCheck() && msg.Flags.DLC() != f.Flags.DLC() {
		return false
	}
	if f.Flags.RTR() && !msg.Flags.RTR() {
		return false
	}
	return true
}
