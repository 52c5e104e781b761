package tinycan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transmitCall struct {
	index Index
	msg   Message
	count int
}

type transmitSetCall struct {
	index Index
	flags uint16
	usec  uint32
}

type filterCall struct {
	index  Index
	filter Filter
}

// stubDevice records every native call and fails the ones listed in
// failOn, used for exercising the session logic without a device.
type stubDevice struct {
	calls        []string
	failOn       map[string]error
	driverInfo   string
	deviceInfo   string
	transmits    []transmitCall
	transmitSets []transmitSetCall
	filters      []filterCall
	speeds       []uint16
	rxQueue      []Message
}

func newStubDevice() *stubDevice {
	return &stubDevice{
		failOn:     map[string]error{},
		driverInfo: "DrvVersion=0.55,LibName=stub",
		deviceInfo: "Anzahl Filter=4,Anzahl Interval Puffer=2",
	}
}

func (s *stubDevice) call(name string) error {
	s.calls = append(s.calls, name)
	return s.failOn[name]
}

func (s *stubDevice) count(name string) int {
	n := 0
	for _, call := range s.calls {
		if call == name {
			n++
		}
	}
	return n
}

func (s *stubDevice) InitDriver(options string) error { return s.call("InitDriver") }
func (s *stubDevice) DownDriver()                     { s.calls = append(s.calls, "DownDriver") }
func (s *stubDevice) SetOptions(options string) error { return s.call("SetOptions") }

func (s *stubDevice) DeviceOpen(index Index, options string) error { return s.call("DeviceOpen") }
func (s *stubDevice) DeviceClose(index Index) error                { return s.call("DeviceClose") }
func (s *stubDevice) SetMode(index Index, mode BusMode, commands Command) error {
	return s.call("SetMode")
}

func (s *stubDevice) SetSpeed(index Index, speed uint16) error {
	s.speeds = append(s.speeds, speed)
	return s.call("SetSpeed")
}

func (s *stubDevice) Transmit(index Index, msg Message, count int) error {
	s.transmits = append(s.transmits, transmitCall{index, msg, count})
	return s.call("Transmit")
}

func (s *stubDevice) TransmitClear(index Index) error { return s.call("TransmitClear") }
func (s *stubDevice) TransmitGetCount(index Index) (int, error) {
	return 0, s.call("TransmitGetCount")
}

func (s *stubDevice) TransmitSet(index Index, flags uint16, intervalUsec uint32) error {
	s.transmitSets = append(s.transmitSets, transmitSetCall{index, flags, intervalUsec})
	return s.call("TransmitSet")
}

func (s *stubDevice) Receive(index Index, count int) ([]Message, error) {
	if err := s.call("Receive"); err != nil {
		return nil, err
	}
	if count > len(s.rxQueue) {
		count = len(s.rxQueue)
	}
	messages := s.rxQueue[:count]
	s.rxQueue = s.rxQueue[count:]
	return messages, nil
}

func (s *stubDevice) ReceiveClear(index Index) error { return s.call("ReceiveClear") }
func (s *stubDevice) ReceiveGetCount(index Index) (int, error) {
	return len(s.rxQueue), s.call("ReceiveGetCount")
}

func (s *stubDevice) SetFilter(index Index, filter Filter) error {
	s.filters = append(s.filters, filterCall{index, filter})
	return s.call("SetFilter")
}

func (s *stubDevice) DriverInfo() (string, error) { return s.driverInfo, s.call("DriverInfo") }
func (s *stubDevice) DeviceInfo(index Index) (string, error) {
	return s.deviceInfo, s.call("DeviceInfo")
}

func (s *stubDevice) DeviceStatus(index Index) (DeviceStatus, error) {
	return DeviceStatus{Driver: DrvCanRun}, s.call("DeviceStatus")
}

func (s *stubDevice) SetPnPCallback(callback PnPCallback) error { return s.call("SetPnPCallback") }
func (s *stubDevice) SetStatusCallback(cb StatusCallback) error { return s.call("SetStatusCallback") }
func (s *stubDevice) SetRxCallback(callback RxCallback) error   { return s.call("SetRxCallback") }
func (s *stubDevice) SetEvents(mask EventMask) error            { return s.call("SetEvents") }

func newTestDriver(t *testing.T, dev Device) *Driver {
	driver, err := NewDriver(dev, map[string]any{OptCanRxDMode: 1, OptAutoConnect: 1})
	require.Nil(t, err)
	require.Nil(t, driver.Initialize(0, nil, "", 250))
	return driver
}

func TestInitializeCascadeOrder(t *testing.T) {
	dev := newStubDevice()
	newTestDriver(t, dev)
	assert.Equal(t, []string{
		"InitDriver", "DriverInfo",
		"DeviceClose", "DeviceOpen", "DeviceInfo",
		"SetOptions",
		"ReceiveClear", "TransmitClear", "SetMode",
	}, dev.calls)
}

func TestInitializeProperties(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	assert.Equal(t, "0.55", driver.DriverProperties()["DrvVersion"])
	assert.Equal(t, "4", driver.DeviceProperties()[PropFilterCount])
	assert.Equal(t, "2", driver.DeviceProperties()[PropIntervalBufferCount])
}

func TestInitializeFailsAtOpenDevice(t *testing.T) {
	dev := newStubDevice()
	dev.failOn["DeviceOpen"] = ErrNoConnection
	driver, err := NewDriver(dev, nil)
	require.Nil(t, err)
	err = driver.Initialize(0, nil, "", 250)
	assert.Equal(t, ErrNoConnection, err)
	// One open attempt, no retry, teardown exactly once, cascade aborted
	assert.Equal(t, 1, dev.count("DeviceOpen"))
	assert.Equal(t, 1, dev.count("DownDriver"))
	assert.Equal(t, 0, dev.count("SetOptions"))
	assert.Equal(t, 0, dev.count("SetMode"))
	// Session is unusable afterwards
	assert.Equal(t, ErrDriverNotInit, driver.TransmitData(0, 0x123, nil, false))
}

func TestInitializeClosePriorFailureNotFatal(t *testing.T) {
	dev := newStubDevice()
	dev.failOn["DeviceClose"] = ErrInvalidIndex
	driver, err := NewDriver(dev, nil)
	require.Nil(t, err)
	assert.Nil(t, driver.Initialize(0, nil, "", 250))
}

func TestInitializeInvalidBitrate(t *testing.T) {
	dev := newStubDevice()
	driver, err := NewDriver(dev, nil)
	require.Nil(t, err)
	assert.Equal(t, ErrInvalidBitrate, driver.Initialize(0, nil, "", 300))
	assert.Empty(t, dev.calls)
}

func TestTransmitData(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)

	t.Run("standard frame", func(t *testing.T) {
		require.Nil(t, driver.TransmitData(0, 0x123, []byte{1, 2, 3}, false))
		sent := dev.transmits[len(dev.transmits)-1]
		assert.Equal(t, 1, sent.count)
		assert.Equal(t, uint32(0x123), sent.msg.ID)
		assert.Equal(t, uint8(3), sent.msg.Flags.DLC())
		assert.True(t, sent.msg.Flags.TxD())
		assert.False(t, sent.msg.Flags.EFF())
		assert.False(t, sent.msg.Flags.RTR())
	})
	t.Run("extended frame", func(t *testing.T) {
		require.Nil(t, driver.TransmitData(0, 0x18FFDA00, []byte{1}, true))
		sent := dev.transmits[len(dev.transmits)-1]
		assert.True(t, sent.msg.Flags.EFF())
		assert.True(t, sent.msg.Flags.RTR())
	})
	t.Run("boundary dlc", func(t *testing.T) {
		require.Nil(t, driver.TransmitData(0, 0x7FF, make([]byte, 8), false))
		sent := dev.transmits[len(dev.transmits)-1]
		assert.Equal(t, uint8(8), sent.msg.Flags.DLC())
		assert.False(t, sent.msg.Flags.EFF())
	})
}

func TestTransmitDataTooLarge(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	err := driver.TransmitData(0, 0x123, make([]byte, 9), false)
	assert.Equal(t, ErrFrameTooLarge, err)
	// Rejected before any native call
	assert.Equal(t, 0, dev.count("Transmit"))
}

func TestSetFilter(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)

	index, err := driver.SetFilter(0, 0x18FFDA00, 0x1FFFFFFF, 0, false)
	require.Nil(t, err)
	assert.Equal(t, uint16(1), index.SubIndex())

	set := dev.filters[0]
	assert.Equal(t, uint32(0x18FFDA00), set.filter.Code)
	assert.Equal(t, uint32(0x1FFFFFFF), set.filter.Mask)
	flags := set.filter.Flags
	assert.False(t, flags.DlcCheck())
	assert.Equal(t, uint8(0), flags.DLC())
	assert.True(t, flags.Enabled())
	assert.False(t, flags.PassThrough())
	assert.False(t, flags.DataCheck())
	assert.Equal(t, uint8(0), flags.IDMode())
	assert.False(t, flags.EFF())
}

func TestSetFilterWithLength(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	_, err := driver.SetFilter(0, 0x123, 0x7FF, 8, true)
	require.Nil(t, err)
	flags := dev.filters[0].filter.Flags
	assert.True(t, flags.DlcCheck())
	assert.Equal(t, uint8(8), flags.DLC())
	assert.True(t, flags.RTR())
}

func TestSetFilterExhaustion(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	seen := map[uint16]bool{}
	for i := 0; i < 4; i++ {
		index, err := driver.SetFilter(0, 0x100+uint32(i), 0x7FF, 0, false)
		require.Nil(t, err)
		assert.False(t, seen[index.SubIndex()])
		seen[index.SubIndex()] = true
	}
	_, err := driver.SetFilter(0, 0x200, 0x7FF, 0, false)
	assert.Equal(t, ErrNoFreeSlot, err)
}

func TestSetFilterFailureLeavesSlotFree(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	dev.failOn["SetFilter"] = ErrCommon
	index, err := driver.SetFilter(0, 0x123, 0x7FF, 0, false)
	assert.Equal(t, ErrCommon, err)
	assert.Equal(t, uint16(1), index.SubIndex())
	delete(dev.failOn, "SetFilter")
	index, err = driver.SetFilter(0, 0x123, 0x7FF, 0, false)
	require.Nil(t, err)
	assert.Equal(t, uint16(1), index.SubIndex())
}

func TestSetFilterExplicitIndex(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	index, err := driver.SetFilter(SlotIndex(3), 0x123, 0x7FF, 0, false)
	require.Nil(t, err)
	assert.Equal(t, uint16(3), index.SubIndex())
	// The explicit slot is recorded too, allocation still hands out the
	// lowest free one
	next, err := driver.SetFilter(0, 0x124, 0x7FF, 0, false)
	require.Nil(t, err)
	assert.Equal(t, uint16(1), next.SubIndex())
	assert.True(t, driver.slots.Used(SlotIndex(3), SlotFilter))
}

func TestSetIntervalMessage(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)

	index, err := driver.SetIntervalMessage(0, 0x18FF00DA, []byte("Hello"), 1000)
	require.Nil(t, err)
	assert.Equal(t, uint16(1), index.SubIndex())

	// Disable timer, load payload, enable with interval in microseconds
	require.Len(t, dev.transmitSets, 2)
	assert.Equal(t, transmitSetCall{index, IntervalDisable, 1_000_000}, dev.transmitSets[0])
	assert.Equal(t, transmitSetCall{index, IntervalEnable, 1_000_000}, dev.transmitSets[1])
	require.Len(t, dev.transmits, 1)
	assert.Equal(t, index, dev.transmits[0].index)
	assert.Equal(t, uint32(0x18FF00DA), dev.transmits[0].msg.ID)
	assert.Equal(t, uint8(5), dev.transmits[0].msg.Flags.DLC())

	// Slot is in use now, the next message gets the following one
	next, err := driver.SetIntervalMessage(0, 0x18FF01DA, []byte("Hello"), 1500)
	require.Nil(t, err)
	assert.Equal(t, uint16(2), next.SubIndex())
	_, err = driver.SetIntervalMessage(0, 0x18FF02DA, []byte("Hello"), 2000)
	assert.Equal(t, ErrNoFreeSlot, err)
}

func TestSetIntervalMessageFailure(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	dev.failOn["TransmitSet"] = ErrBufferWrite
	index, err := driver.SetIntervalMessage(0, 0x123, []byte{1}, 100)
	assert.Equal(t, ErrBufferWrite, err)
	assert.Equal(t, uint16(1), index.SubIndex())
	// Payload never loaded after the first step failed
	assert.Equal(t, 0, dev.count("Transmit"))
	// Unconfirmed slot stays available
	delete(dev.failOn, "TransmitSet")
	index, err = driver.SetIntervalMessage(0, 0x123, []byte{1}, 100)
	require.Nil(t, err)
	assert.Equal(t, uint16(1), index.SubIndex())
}

func TestReceive(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	msg, err := NewMessage(0x123, []byte{1, 2})
	require.Nil(t, err)
	msg.Sec = 100
	dev.rxQueue = []Message{msg}

	messages, err := driver.Receive(0, 5)
	require.Nil(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, uint32(100), messages[0].Sec)

	t.Run("native error is terminal", func(t *testing.T) {
		dev.failOn["Receive"] = ErrFifoRead
		_, err := driver.Receive(0, 1)
		assert.Equal(t, ErrFifoRead, err)
	})
}

func TestReceiveAndFormat(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	msg, err := NewMessage(0x123, []byte{0x01, 0x02})
	require.Nil(t, err)
	dev.rxQueue = []Message{msg}
	formatted, err := driver.ReceiveAndFormat(0, 1)
	require.Nil(t, err)
	assert.Equal(t,
		[]string{"ID:00000123, DLC:2, TxD:0, RTR:0, EFF:0, Source:0, Data:['0x1', '0x2']"},
		formatted)
}

func TestSetBusSpeed(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	require.Nil(t, driver.SetBusSpeed(0, 500))
	assert.Equal(t, []uint16{500}, dev.speeds)

	err := driver.SetBusSpeed(0, 300)
	assert.Equal(t, ErrInvalidBitrate, err)
	// Invalid bitrate never reaches the device
	assert.Equal(t, 1, dev.count("SetSpeed"))
}

func TestShutdown(t *testing.T) {
	dev := newStubDevice()
	driver := newTestDriver(t, dev)
	driver.Shutdown()
	assert.Equal(t, 1, dev.count("DownDriver"))
	assert.Equal(t, ErrDriverNotInit, driver.TransmitData(0, 0x123, nil, false))
	_, err := driver.Receive(0, 1)
	assert.Equal(t, ErrDriverNotInit, err)
	// Shutting down twice is harmless
	driver.Shutdown()
	assert.Equal(t, 1, dev.count("DownDriver"))
}
