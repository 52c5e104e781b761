package tinycan

import "fmt"

// BusMode selects the CAN controller mode of operation for SetMode.
type BusMode uint8

const (
	ModeNoChange         BusMode = 0
	ModeStart            BusMode = 1
	ModeStop             BusMode = 2
	ModeReset            BusMode = 3
	ModeListenOnly       BusMode = 4
	ModeNoAutoRetransmit BusMode = 5
)

// Command is the bitmask of clear commands passed alongside SetMode.
type Command uint16

const (
	CommandNone           Command = 0x0000
	CommandRxOverrunClear Command = 0x0001
	CommandRxFifosClear   Command = 0x0002
	CommandTxOverrunClear Command = 0x0004
	CommandTxFifosClear   Command = 0x0008
	CommandHwFilterClear  Command = 0x0010
	CommandSwFilterClear  Command = 0x0020
	CommandTxBufferClear  Command = 0x0040
	CommandAllClear       Command = 0x0FFF
)

// Interval transmit buffer flags for TransmitSet. Bit 0 enables the timer,
// bit 15 applies the interval value.
const (
	IntervalDisable uint16 = 0x0000
	IntervalEnable  uint16 = 0x8001
)

// Callback signatures for the three asynchronous notification channels.
// They are invoked from a device owned goroutine or thread and must not
// assume the caller's locks are held.
type (
	PnPCallback    func(index Index, connected bool)
	StatusCallback func(index Index, status DeviceStatus)
	// RxCallback receives the triggering message when the driver option
	// enables it, otherwise msg is nil and only count is meaningful.
	RxCallback func(index Index, msg *Message, count int)
)

// Device is the native Tiny-CAN API boundary. Implementations return nil on
// success and an [Error] code on failure, counts are returned separately.
// The real vendor library is a shared object, the implementations in this
// repo are a simulated device and a SocketCAN backed software device.
type Device interface {
	InitDriver(options string) error
	DownDriver()
	SetOptions(options string) error

	DeviceOpen(index Index, options string) error
	DeviceClose(index Index) error
	SetMode(index Index, mode BusMode, commands Command) error
	SetSpeed(index Index, speed uint16) error

	Transmit(index Index, msg Message, count int) error
	TransmitClear(index Index) error
	TransmitGetCount(index Index) (int, error)
	TransmitSet(index Index, flags uint16, intervalUsec uint32) error

	Receive(index Index, count int) ([]Message, error)
	ReceiveClear(index Index) error
	ReceiveGetCount(index Index) (int, error)

	SetFilter(index Index, filter Filter) error

	DriverInfo() (string, error)
	DeviceInfo(index Index) (string, error)
	DeviceStatus(index Index) (DeviceStatus, error)

	SetPnPCallback(callback PnPCallback) error
	SetStatusCallback(callback StatusCallback) error
	SetRxCallback(callback RxCallback) error
	SetEvents(mask EventMask) error
}

// Register a new device backend type. This should be called inside an
// init() function of the backend package.
func RegisterDevice(kind string, newDevice NewDeviceFunc) {
	deviceRegistry[kind] = newDevice
}

type NewDeviceFunc func() (Device, error)

var deviceRegistry = make(map[string]NewDeviceFunc)

// OpenDevice creates a device of the given backend kind.
// Currently supported: virtual, socketcan.
func OpenDevice(kind string) (Device, error) {
	newDevice, ok := deviceRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported device backend : %v", kind)
	}
	return newDevice()
}
