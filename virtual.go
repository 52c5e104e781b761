package tinycan

import (
	"fmt"
	"sync"
	"time"
)

// Virtual Tiny-CAN device used for testing and development. It models the
// firmware visible behavior of a single channel adapter in memory: the
// initialization state checks, per sub-index receive FIFOs, filter routing,
// interval transmit buffers and the three event channels. Loopback of
// transmitted messages is off by default, tests enable it with
// SetReceiveOwn.

const (
	virtualFilterSlots   = 16
	virtualIntervalSlots = 10
)

func init() {
	RegisterDevice("virtual", func() (Device, error) {
		return NewVirtualDevice(), nil
	})
}

type intervalBuffer struct {
	msg          Message
	intervalUsec uint32
	enabled      bool
	loaded       bool
}

type VirtualDevice struct {
	mu          sync.Mutex
	initialized bool
	opened      bool
	receiveOwn  bool
	speed       uint16

	initOptions    string
	openOptions    string
	runtimeOptions string

	fifos     map[uint16][]Message
	filters   map[uint16]Filter
	intervals map[uint16]intervalBuffer

	status    DeviceStatus
	eventMask EventMask
	pnpCb     PnPCallback
	statusCb  StatusCallback
	rxCb      RxCallback
}

func NewVirtualDevice() *VirtualDevice {
	return &VirtualDevice{
		fifos:     make(map[uint16][]Message),
		filters:   make(map[uint16]Filter),
		intervals: make(map[uint16]intervalBuffer),
		status:    DeviceStatus{Driver: DrvNotInit},
	}
}

func (v *VirtualDevice) InitDriver(options string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized = true
	v.initOptions = options
	v.status = DeviceStatus{Driver: DrvInit}
	return nil
}

func (v *VirtualDevice) DownDriver() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initialized = false
	v.opened = false
	v.fifos = make(map[uint16][]Message)
	v.filters = make(map[uint16]Filter)
	v.intervals = make(map[uint16]intervalBuffer)
	v.status = DeviceStatus{Driver: DrvNotInit}
}

func (v *VirtualDevice) SetOptions(options string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return ErrDriverNotInit
	}
	v.runtimeOptions = options
	return nil
}

func (v *VirtualDevice) DeviceOpen(index Index, options string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return ErrDriverNotInit
	}
	v.opened = true
	v.openOptions = options
	v.status = DeviceStatus{Driver: DrvCanOpen}
	return nil
}

func (v *VirtualDevice) DeviceClose(index Index) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return ErrDriverNotInit
	}
	if !v.opened {
		return ErrInvalidIndex
	}
	v.opened = false
	v.status = DeviceStatus{Driver: DrvPortNotOpen}
	return nil
}

func (v *VirtualDevice) SetMode(index Index, mode BusMode, commands Command) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if commands&CommandRxFifosClear != 0 {
		v.fifos = make(map[uint16][]Message)
	}
	if commands&CommandHwFilterClear != 0 || commands&CommandSwFilterClear != 0 {
		v.filters = make(map[uint16]Filter)
	}
	if commands&CommandTxBufferClear != 0 {
		v.intervals = make(map[uint16]intervalBuffer)
	}
	switch {
	case mode&ModeListenOnly == ModeListenOnly:
		v.status = DeviceStatus{Driver: DrvCanRun}
	case mode&ModeStart != 0:
		v.status = DeviceStatus{Driver: DrvCanRun}
	case mode == ModeStop:
		v.status = DeviceStatus{Driver: DrvCanOpen}
	}
	return nil
}

func (v *VirtualDevice) SetSpeed(index Index, speed uint16) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	if !ValidBitrate(int(speed)) {
		return ErrInvalidCanSpeed
	}
	v.speed = speed
	return nil
}

func (v *VirtualDevice) Transmit(index Index, msg Message, count int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	// A transmission through an interval slot loads that slot's payload.
	if sub := index.SubIndex(); sub != 0 {
		buffer := v.intervals[sub]
		buffer.msg = msg
		buffer.loaded = true
		v.intervals[sub] = buffer
	}
	if v.receiveOwn {
		v.deliver(msg)
	}
	return nil
}

// deliver routes a message from the bus into the receive FIFOs the way the
// firmware does: every matching filter gets a copy on its sub-index, a
// message matching no filter lands in the default FIFO only when a
// pass-through filter exists or no filters are set at all.
func (v *VirtualDevice) deliver(msg Message) {
	now := time.Now()
	msg.Sec = uint32(now.Unix())
	msg.USec = uint32(now.Nanosecond() / 1000)

	matched := false
	passThrough := len(v.filters) == 0
	for sub, filter := range v.filters {
		if filter.Matches(msg) {
			v.fifos[sub] = append(v.fifos[sub], msg)
			matched = true
			v.notifyRx(SlotIndex(sub), msg)
		} else if filter.Flags.PassThrough() {
			passThrough = true
		}
	}
	if !matched && passThrough {
		v.fifos[0] = append(v.fifos[0], msg)
		v.notifyRx(0, msg)
	}
}

func (v *VirtualDevice) notifyRx(index Index, msg Message) {
	if v.rxCb == nil {
		return
	}
	filtered := index.SubIndex() != 0
	if filtered && v.eventMask&EventEnableRxFilterMessages == 0 {
		return
	}
	if !filtered && v.eventMask&EventEnableRxMessages == 0 {
		return
	}
	received := msg
	go v.rxCb(index, &received, 1)
}

func (v *VirtualDevice) TransmitClear(index Index) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.requireOpen()
}

func (v *VirtualDevice) TransmitGetCount(index Index) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return 0, err
	}
	// The virtual transmit path is synchronous, nothing queues.
	return 0, nil
}

func (v *VirtualDevice) TransmitSet(index Index, flags uint16, intervalUsec uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	sub := index.SubIndex()
	if sub == 0 || int(sub) > virtualIntervalSlots {
		return ErrInvalidIndex
	}
	buffer := v.intervals[sub]
	buffer.intervalUsec = intervalUsec
	buffer.enabled = flags&IntervalEnable == IntervalEnable
	v.intervals[sub] = buffer
	return nil
}

func (v *VirtualDevice) Receive(index Index, count int) ([]Message, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, ErrInvalidParameter
	}
	sub := index.SubIndex()
	fifo := v.fifos[sub]
	if count > len(fifo) {
		count = len(fifo)
	}
	messages := make([]Message, count)
	copy(messages, fifo[:count])
	v.fifos[sub] = fifo[count:]
	return messages, nil
}

func (v *VirtualDevice) ReceiveClear(index Index) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	delete(v.fifos, index.SubIndex())
	return nil
}

func (v *VirtualDevice) ReceiveGetCount(index Index) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return 0, err
	}
	return len(v.fifos[index.SubIndex()]), nil
}

func (v *VirtualDevice) SetFilter(index Index, filter Filter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return err
	}
	sub := index.SubIndex()
	if sub == 0 || int(sub) > virtualFilterSlots {
		return ErrInvalidIndex
	}
	v.filters[sub] = filter
	return nil
}

func (v *VirtualDevice) DriverInfo() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return "", ErrDriverNotInit
	}
	return "DrvVersion=0.55,LibName=virtual", nil
}

func (v *VirtualDevice) DeviceInfo(index Index) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireOpen(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hardware=Tiny-CAN virtual,Snr=VIRT0001,%s=%d,%s=%d",
		PropFilterCount, virtualFilterSlots, PropIntervalBufferCount, virtualIntervalSlots), nil
}

func (v *VirtualDevice) DeviceStatus(index Index) (DeviceStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return DeviceStatus{}, ErrDriverNotInit
	}
	return v.status, nil
}

func (v *VirtualDevice) SetPnPCallback(callback PnPCallback) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pnpCb = callback
	return nil
}

func (v *VirtualDevice) SetStatusCallback(callback StatusCallback) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusCb = callback
	return nil
}

func (v *VirtualDevice) SetRxCallback(callback RxCallback) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rxCb = callback
	return nil
}

func (v *VirtualDevice) SetEvents(mask EventMask) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if mask&0x00FF != 0 {
		v.eventMask |= mask & 0x00FF
	}
	v.eventMask &^= (mask & 0xFF00) >> 8
	return nil
}

func (v *VirtualDevice) requireOpen() error {
	if !v.initialized {
		return ErrDriverNotInit
	}
	if !v.opened {
		return ErrNoConnection
	}
	return nil
}

// SetReceiveOwn enables local loopback of transmitted messages.
func (v *VirtualDevice) SetReceiveOwn(receiveOwn bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.receiveOwn = receiveOwn
}

// Inject feeds a message into the device as if it arrived from the bus.
func (v *VirtualDevice) Inject(msg Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deliver(msg)
}

// PlugEvent simulates a plug and play notification.
func (v *VirtualDevice) PlugEvent(index Index, connected bool) {
	v.mu.Lock()
	callback := v.pnpCb
	enabled := v.eventMask&EventEnablePnPChange != 0
	v.mu.Unlock()
	if callback != nil && enabled {
		callback(index, connected)
	}
}

// ReportStatus sets the device status and fires the status change event.
func (v *VirtualDevice) ReportStatus(index Index, status DeviceStatus) {
	v.mu.Lock()
	v.status = status
	callback := v.statusCb
	enabled := v.eventMask&EventEnableStatusChange != 0
	v.mu.Unlock()
	if callback != nil && enabled {
		callback(index, status)
	}
}

// IntervalBufferState reports the interval buffer bookkeeping of a slot,
// used by tests.
func (v *VirtualDevice) IntervalBufferState(sub uint16) (intervalUsec uint32, enabled bool, loaded bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buffer := v.intervals[sub]
	return buffer.intervalUsec, buffer.enabled, buffer.loaded
}
