package tinycan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVirtualDriver(t *testing.T) (*Driver, *VirtualDevice) {
	dev := NewVirtualDevice()
	driver, err := NewDriver(dev, map[string]any{OptCanRxDMode: 1})
	require.Nil(t, err)
	require.Nil(t, driver.Initialize(0, nil, "", 250))
	return driver, dev
}

func TestVirtualDeviceStateChecks(t *testing.T) {
	dev := NewVirtualDevice()

	t.Run("before driver init", func(t *testing.T) {
		assert.Equal(t, ErrDriverNotInit, dev.DeviceOpen(0, ""))
		_, err := dev.DriverInfo()
		assert.Equal(t, ErrDriverNotInit, err)
	})

	require.Nil(t, dev.InitDriver(""))

	t.Run("before device open", func(t *testing.T) {
		assert.Equal(t, ErrInvalidIndex, dev.DeviceClose(0))
		assert.Equal(t, ErrNoConnection, dev.Transmit(0, Message{}, 1))
		_, err := dev.Receive(0, 1)
		assert.Equal(t, ErrNoConnection, err)
	})

	require.Nil(t, dev.DeviceOpen(0, ""))
	status, err := dev.DeviceStatus(0)
	require.Nil(t, err)
	assert.Equal(t, DrvCanOpen, status.Driver)

	require.Nil(t, dev.DeviceClose(0))
	status, err = dev.DeviceStatus(0)
	require.Nil(t, err)
	assert.Equal(t, DrvPortNotOpen, status.Driver)
}

func TestVirtualOpenRegistered(t *testing.T) {
	dev, err := OpenDevice("virtual")
	require.Nil(t, err)
	assert.IsType(t, &VirtualDevice{}, dev)

	_, err = OpenDevice("does-not-exist")
	assert.NotNil(t, err)
}

func TestVirtualInfoStrings(t *testing.T) {
	driver, _ := newVirtualDriver(t)
	assert.Equal(t, "0.55", driver.DriverProperties()["DrvVersion"])
	assert.Equal(t, "16", driver.DeviceProperties()[PropFilterCount])
	assert.Equal(t, "10", driver.DeviceProperties()[PropIntervalBufferCount])
}

func TestVirtualLoopback(t *testing.T) {
	driver, dev := newVirtualDriver(t)
	dev.SetReceiveOwn(true)

	require.Nil(t, driver.TransmitData(0, 0x18FFDA00, []byte("Hello"), false))

	count, err := driver.ReceiveGetCount(0)
	require.Nil(t, err)
	assert.Equal(t, 1, count)

	messages, err := driver.Receive(0, 10)
	require.Nil(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, uint32(0x18FFDA00), messages[0].ID)
	assert.Equal(t, uint8(5), messages[0].Flags.DLC())
	assert.True(t, messages[0].Flags.EFF())
	assert.NotZero(t, messages[0].Sec)

	// The FIFO drains
	count, err = driver.ReceiveGetCount(0)
	require.Nil(t, err)
	assert.Equal(t, 0, count)
}

func TestVirtualFilterRouting(t *testing.T) {
	driver, dev := newVirtualDriver(t)

	index, err := driver.SetFilter(0, 0x18FFDA00, 0x1FFFFFFF, 0, false)
	require.Nil(t, err)

	match, err := NewMessage(0x18FFDA00, []byte{1})
	require.Nil(t, err)
	other, err := NewMessage(0x18FF00DA, []byte{1})
	require.Nil(t, err)
	dev.Inject(match)
	dev.Inject(other)

	t.Run("match lands in the filter FIFO", func(t *testing.T) {
		messages, err := driver.Receive(index, 10)
		require.Nil(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, uint32(0x18FFDA00), messages[0].ID)
	})
	t.Run("non match is dropped", func(t *testing.T) {
		count, err := driver.ReceiveGetCount(0)
		require.Nil(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestVirtualPassThroughFilter(t *testing.T) {
	driver, dev := newVirtualDriver(t)

	// A pass-through filter keeps non matching traffic flowing into the
	// default FIFO instead of dropping it.
	filter := Filter{
		Mask:  0x1FFFFFFF,
		Code:  0x18FFDA00,
		Flags: FilterFlags(0).WithEnabled(true).WithPassThrough(true),
	}
	require.Nil(t, dev.SetFilter(SlotIndex(1), filter))

	other, err := NewMessage(0x18FF00DA, []byte{1})
	require.Nil(t, err)
	dev.Inject(other)

	count, err := driver.ReceiveGetCount(0)
	require.Nil(t, err)
	assert.Equal(t, 1, count)
}

func TestVirtualIntervalBuffer(t *testing.T) {
	driver, dev := newVirtualDriver(t)

	index, err := driver.SetIntervalMessage(0, 0x18FF00DA, []byte("Hello"), 500)
	require.Nil(t, err)

	intervalUsec, enabled, loaded := dev.IntervalBufferState(index.SubIndex())
	assert.Equal(t, uint32(500_000), intervalUsec)
	assert.True(t, enabled)
	assert.True(t, loaded)
}

func TestVirtualIntervalSlotBounds(t *testing.T) {
	_, dev := newVirtualDriver(t)
	assert.Equal(t, ErrInvalidIndex, dev.TransmitSet(0, IntervalEnable, 1000))
	assert.Equal(t, ErrInvalidIndex, dev.TransmitSet(SlotIndex(virtualIntervalSlots+1), IntervalEnable, 1000))
	assert.Nil(t, dev.TransmitSet(SlotIndex(virtualIntervalSlots), IntervalEnable, 1000))
}

func TestVirtualSetSpeed(t *testing.T) {
	_, dev := newVirtualDriver(t)
	assert.Nil(t, dev.SetSpeed(0, 1000))
	assert.Equal(t, ErrInvalidCanSpeed, dev.SetSpeed(0, 333))
}

func TestVirtualClearCommands(t *testing.T) {
	driver, dev := newVirtualDriver(t)
	dev.SetReceiveOwn(true)
	require.Nil(t, driver.TransmitData(0, 0x123, []byte{1}, false))
	_, err := driver.SetFilter(0, 0x200, 0x7FF, 0, false)
	require.Nil(t, err)

	require.Nil(t, driver.ClearErrors(0))

	count, err := driver.ReceiveGetCount(0)
	require.Nil(t, err)
	assert.Equal(t, 0, count)

	// Filters were cleared too, traffic reaches the default FIFO again
	msg, err := NewMessage(0x123, []byte{1})
	require.Nil(t, err)
	dev.Inject(msg)
	count, err = driver.ReceiveGetCount(0)
	require.Nil(t, err)
	assert.Equal(t, 1, count)
}
