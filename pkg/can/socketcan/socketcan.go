package socketcan

import (
	"fmt"
	"sync"
	"time"

	tinycan "github.com/MechLabEngineering/CarPC"
	sockcan "github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Software Tiny-CAN device on top of a SocketCAN interface, using the
// implementation that can be found here : https://github.com/brutella/can
//
// Filters and interval transmit buffers live in this package instead of
// device firmware, which is what the soft flag of the resource index
// marks. The bitrate of a SocketCAN interface is configured through the
// link layer (ip link), not from here, so SetSpeed reports access denied.

const (
	softFilterSlots   = 32
	softIntervalSlots = 16
)

const (
	canEffFlag uint32 = 0x80000000
	canRtrFlag uint32 = 0x40000000
	canEffMask uint32 = 0x1FFFFFFF
)

func init() {
	tinycan.RegisterDevice("socketcan", func() (tinycan.Device, error) {
		return New(), nil
	})
}

type intervalSlot struct {
	msg          tinycan.Message
	intervalUsec uint32
	loaded       bool
	stop         chan struct{}
}

type Device struct {
	mu          sync.Mutex
	initialized bool
	opened      bool
	bus         *sockcan.Bus
	ifaceName   string

	fifos     map[uint16][]tinycan.Message
	filters   map[uint16]tinycan.Filter
	intervals map[uint16]*intervalSlot

	eventMask tinycan.EventMask
	pnpCb     tinycan.PnPCallback
	statusCb  tinycan.StatusCallback
	rxCb      tinycan.RxCallback
	status    tinycan.DeviceStatus
}

func New() *Device {
	return &Device{
		fifos:     make(map[uint16][]tinycan.Message),
		filters:   make(map[uint16]tinycan.Filter),
		intervals: make(map[uint16]*intervalSlot),
		status:    tinycan.DeviceStatus{Driver: tinycan.DrvNotInit},
	}
}

func (d *Device) InitDriver(options string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = true
	d.status = tinycan.DeviceStatus{Driver: tinycan.DrvInit}
	return nil
}

func (d *Device) DownDriver() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
	d.initialized = false
	d.status = tinycan.DeviceStatus{Driver: tinycan.DrvNotInit}
}

func (d *Device) SetOptions(options string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return tinycan.ErrDriverNotInit
	}
	return nil
}

// DeviceOpen binds to the SocketCAN interface named by the ComDeviceName
// option, can0 when unset.
func (d *Device) DeviceOpen(index tinycan.Index, options string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return tinycan.ErrDriverNotInit
	}
	if d.opened {
		d.closeLocked()
	}
	name := tinycan.ParseProperties(options)[tinycan.OptComDeviceName]
	if name == "" {
		name = "can0"
	}
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		log.Errorf("[SOCKETCAN] could not open interface %v : %v", name, err)
		return tinycan.ErrNoConnection
	}
	d.bus = bus
	d.ifaceName = name
	d.opened = true
	d.status = tinycan.DeviceStatus{Driver: tinycan.DrvCanOpen}
	bus.Subscribe(d)
	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			log.Errorf("[SOCKETCAN] receive loop closed : %v", err)
		}
	}()
	return nil
}

func (d *Device) DeviceClose(index tinycan.Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return tinycan.ErrDriverNotInit
	}
	if !d.opened {
		return tinycan.ErrInvalidIndex
	}
	d.closeLocked()
	d.status = tinycan.DeviceStatus{Driver: tinycan.DrvPortNotOpen}
	return nil
}

func (d *Device) closeLocked() {
	for _, slot := range d.intervals {
		if slot.stop != nil {
			close(slot.stop)
			slot.stop = nil
		}
	}
	if d.bus != nil {
		if err := d.bus.Disconnect(); err != nil {
			log.Errorf("[SOCKETCAN] disconnect error : %v", err)
		}
		d.bus = nil
	}
	d.opened = false
}

func (d *Device) SetMode(index tinycan.Index, mode tinycan.BusMode, commands tinycan.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	if commands&tinycan.CommandRxFifosClear != 0 {
		d.fifos = make(map[uint16][]tinycan.Message)
	}
	if commands&tinycan.CommandSwFilterClear != 0 {
		d.filters = make(map[uint16]tinycan.Filter)
	}
	if commands&tinycan.CommandTxBufferClear != 0 {
		for _, slot := range d.intervals {
			if slot.stop != nil {
				close(slot.stop)
			}
		}
		d.intervals = make(map[uint16]*intervalSlot)
	}
	if mode&tinycan.ModeStart != 0 || mode&tinycan.ModeListenOnly != 0 {
		d.status = tinycan.DeviceStatus{Driver: tinycan.DrvCanRun}
	}
	return nil
}

func (d *Device) SetSpeed(index tinycan.Index, speed uint16) error {
	return tinycan.ErrAccessDenied
}

func (d *Device) Transmit(index tinycan.Index, msg tinycan.Message, count int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	if sub := index.SubIndex(); sub != 0 {
		slot := d.intervalSlot(sub)
		slot.msg = msg
		slot.loaded = true
	}
	return d.publish(msg)
}

func (d *Device) publish(msg tinycan.Message) error {
	id := msg.ID
	if msg.Flags.EFF() {
		id |= canEffFlag
	}
	if msg.Flags.RTR() {
		id |= canRtrFlag
	}
	err := d.bus.Publish(sockcan.Frame{
		ID:     id,
		Length: msg.Flags.DLC(),
		Data:   msg.Data,
	})
	if err != nil {
		log.Errorf("[SOCKETCAN] publish error : %v", err)
		return tinycan.ErrFifoWrite
	}
	return nil
}

// Handle implements the brutella/can receive interface.
func (d *Device) Handle(frame sockcan.Frame) {
	msg := tinycan.Message{ID: frame.ID &^ (canEffFlag | canRtrFlag)}
	msg.Flags = msg.Flags.
		WithDLC(frame.Length).
		WithEFF(frame.ID&canEffFlag != 0 || frame.ID&canEffMask > tinycan.StandardIDMask).
		WithRTR(frame.ID&canRtrFlag != 0)
	msg.Data = frame.Data
	now := time.Now()
	msg.Sec = uint32(now.Unix())
	msg.USec = uint32(now.Nanosecond() / 1000)

	d.mu.Lock()
	defer d.mu.Unlock()
	matched := false
	passThrough := len(d.filters) == 0
	for sub, filter := range d.filters {
		if filter.Matches(msg) {
			d.fifos[sub] = append(d.fifos[sub], msg)
			matched = true
			d.notifyRx(tinycan.IndexBits{SubIndex: sub, Soft: true}.Pack(), msg)
		} else if filter.Flags.PassThrough() {
			passThrough = true
		}
	}
	if !matched && passThrough {
		d.fifos[0] = append(d.fifos[0], msg)
		d.notifyRx(0, msg)
	}
}

func (d *Device) notifyRx(index tinycan.Index, msg tinycan.Message) {
	if d.rxCb == nil {
		return
	}
	filtered := index.SubIndex() != 0
	if filtered && d.eventMask&tinycan.EventEnableRxFilterMessages == 0 {
		return
	}
	if !filtered && d.eventMask&tinycan.EventEnableRxMessages == 0 {
		return
	}
	received := msg
	go d.rxCb(index, &received, 1)
}

func (d *Device) TransmitClear(index tinycan.Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requireOpen()
}

func (d *Device) TransmitGetCount(index tinycan.Index) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (d *Device) TransmitSet(index tinycan.Index, flags uint16, intervalUsec uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	sub := index.SubIndex()
	if sub == 0 || int(sub) > softIntervalSlots {
		return tinycan.ErrInvalidIndex
	}
	slot := d.intervalSlot(sub)
	slot.intervalUsec = intervalUsec
	if slot.stop != nil {
		close(slot.stop)
		slot.stop = nil
	}
	if flags&tinycan.IntervalEnable == tinycan.IntervalEnable && intervalUsec > 0 {
		slot.stop = make(chan struct{})
		go d.retransmit(sub, slot.stop, time.Duration(intervalUsec)*time.Microsecond)
	}
	return nil
}

// Periodic retransmission of an interval slot, firmware does this on real
// hardware.
func (d *Device) retransmit(sub uint16, stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			slot, ok := d.intervals[sub]
			if !ok || !slot.loaded || !d.opened {
				d.mu.Unlock()
				return
			}
			if err := d.publish(slot.msg); err != nil {
				log.Errorf("[SOCKETCAN] interval retransmit error : %v", err)
			}
			d.mu.Unlock()
		}
	}
}

func (d *Device) intervalSlot(sub uint16) *intervalSlot {
	slot, ok := d.intervals[sub]
	if !ok {
		slot = &intervalSlot{}
		d.intervals[sub] = slot
	}
	return slot
}

func (d *Device) Receive(index tinycan.Index, count int) ([]tinycan.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, tinycan.ErrInvalidParameter
	}
	sub := index.SubIndex()
	fifo := d.fifos[sub]
	if count > len(fifo) {
		count = len(fifo)
	}
	messages := make([]tinycan.Message, count)
	copy(messages, fifo[:count])
	d.fifos[sub] = fifo[count:]
	return messages, nil
}

func (d *Device) ReceiveClear(index tinycan.Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	delete(d.fifos, index.SubIndex())
	return nil
}

func (d *Device) ReceiveGetCount(index tinycan.Index) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return len(d.fifos[index.SubIndex()]), nil
}

func (d *Device) SetFilter(index tinycan.Index, filter tinycan.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return err
	}
	sub := index.SubIndex()
	if sub == 0 || int(sub) > softFilterSlots {
		return tinycan.ErrInvalidIndex
	}
	d.filters[sub] = filter
	return nil
}

func (d *Device) DriverInfo() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return "", tinycan.ErrDriverNotInit
	}
	return "DrvVersion=0.55,LibName=socketcan", nil
}

func (d *Device) DeviceInfo(index tinycan.Index) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireOpen(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Hardware=SocketCAN,%s=%s,%s=%d,%s=%d",
		tinycan.OptComDeviceName, d.ifaceName,
		tinycan.PropFilterCount, softFilterSlots,
		tinycan.PropIntervalBufferCount, softIntervalSlots), nil
}

func (d *Device) DeviceStatus(index tinycan.Index) (tinycan.DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return tinycan.DeviceStatus{}, tinycan.ErrDriverNotInit
	}
	return d.status, nil
}

func (d *Device) SetPnPCallback(callback tinycan.PnPCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pnpCb = callback
	return nil
}

func (d *Device) SetStatusCallback(callback tinycan.StatusCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusCb = callback
	return nil
}

func (d *Device) SetRxCallback(callback tinycan.RxCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxCb = callback
	return nil
}

func (d *Device) SetEvents(mask tinycan.EventMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventMask |= mask & 0x00FF
	d.eventMask &^= (mask & 0xFF00) >> 8
	return nil
}

func (d *Device) requireOpen() error {
	if !d.initialized {
		return tinycan.ErrDriverNotInit
	}
	if !d.opened {
		return tinycan.ErrNoConnection
	}
	return nil
}
