package tinycan

import (
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"
)

// CAN bitrates in kbit/s accepted by the Tiny-CAN hardware. Anything else
// is a configuration error.
var Bitrates = []int{10, 20, 50, 100, 125, 250, 500, 800, 1000}

// ValidBitrate reports whether the bitrate is in the supported table.
func ValidBitrate(bitrate int) bool {
	for _, b := range Bitrates {
		if b == bitrate {
			return true
		}
	}
	return false
}

// Property keys the firmware reports in its hardware info string. The
// names are part of the device wire contract, spelling included.
const (
	PropFilterCount         = "Anzahl Filter"
	PropIntervalBufferCount = "Anzahl Interval Puffer"
)

// Driver is a stateful session against one Tiny-CAN device. It owns the
// option registry, the slot allocator, the cached driver and device
// property maps and the default communication index. A Driver is created
// with [NewDriver] and brought up with [Driver.Initialize], after which the
// transmit, receive, filter and interval operations are available until
// [Driver.Shutdown].
//
// All session calls are serialized through an internal mutex. The device
// handle is exclusively owned, two sessions must not share one open device
// index.
type Driver struct {
	mu          sync.Mutex
	dev         Device
	index       Index
	options     *Options
	slots       *SlotAllocator
	driverProps map[string]string
	deviceProps map[string]string
	events      *dispatcher
	initialized bool
}

// NewDriver wraps a native device boundary into a session. The initial
// options are merged into the registry but nothing is sent to the device
// until [Driver.Initialize].
func NewDriver(dev Device, options map[string]any) (*Driver, error) {
	driver := &Driver{
		dev:         dev,
		options:     NewOptions(),
		slots:       NewSlotAllocator(),
		driverProps: make(map[string]string),
		deviceProps: make(map[string]string),
	}
	if err := driver.options.Merge(options); err != nil {
		return nil, err
	}
	return driver, nil
}

// Index returns the session's default communication index.
func (d *Driver) Index() Index { return d.index }

// DriverProperties returns the property map reported by the driver library
// during [Driver.Initialize].
func (d *Driver) DriverProperties() map[string]string { return d.driverProps }

// DeviceProperties returns the property map reported by the hardware, at
// minimum the filter and interval buffer capacity counters.
func (d *Driver) DeviceProperties() map[string]string { return d.deviceProps }

// Initialize runs the full bring-up cascade in strict order: driver init,
// device open, runtime options, bus reset. The first failing step aborts
// the cascade with its error and tears the native handle down again, the
// session must not be used afterwards. serial and bitrate override the
// corresponding options when non zero.
func (d *Driver) Initialize(index Index, options map[string]any, serial string, bitrate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	log.Info("initComplete")
	if options != nil {
		if err := d.options.Merge(options); err != nil {
			return err
		}
	}
	if serial != "" {
		if err := d.options.Set(OptSnr, serial); err != nil {
			return err
		}
	}
	if bitrate != 0 {
		if !ValidBitrate(bitrate) {
			return ErrInvalidBitrate
		}
		if err := d.options.Set(OptCanSpeed1, bitrate); err != nil {
			return err
		}
	}
	d.index = index
	// Init cascade: driver >> device >> options >> CAN bus
	err := d.initDriver()
	if err == nil {
		err = d.openDevice(index, nil, "")
	}
	if err == nil {
		err = d.applyOptions(nil)
	}
	if err == nil {
		err = d.resetBus(index)
	}
	if err != nil {
		log.Errorf("init failed : %v", err)
		d.dev.DownDriver()
		d.initialized = false
		return err
	}
	log.Info("initComplete done")
	return nil
}

// InitDriver runs only the driver load step, see [Driver.Initialize].
func (d *Driver) InitDriver(options map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if options != nil {
		if err := d.options.Merge(options); err != nil {
			return err
		}
	}
	return d.initDriver()
}

func (d *Driver) initDriver() error {
	optionString := d.options.Serialize(SubsetInit)
	log.Infof("initDriver with options %q", optionString)
	if err := d.dev.InitDriver(optionString); err != nil {
		log.Errorf("initDriver error : %v", err)
		return err
	}
	d.initialized = true
	info, err := d.dev.DriverInfo()
	if err != nil {
		log.Errorf("driver info error : %v", err)
		return err
	}
	for key, value := range ParseProperties(info) {
		d.driverProps[key] = value
	}
	return nil
}

// OpenDevice opens the device at the given index. Any previously open
// device at that index is closed first, a close failure is logged but not
// fatal since the device may simply not have been open. On success the
// hardware property report seeds the slot allocator capacities.
func (d *Driver) OpenDevice(index Index, options map[string]any, serial string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.openDevice(index, options, serial)
}

func (d *Driver) openDevice(index Index, options map[string]any, serial string) error {
	log.Info("openDevice")
	if options != nil {
		if err := d.options.Merge(options); err != nil {
			return err
		}
	}
	if serial != "" {
		if err := d.options.Set(OptSnr, serial); err != nil {
			return err
		}
	}
	log.Info("deviceClose prior to deviceOpen")
	if err := d.dev.DeviceClose(index); err != nil {
		log.Errorf("deviceClose prior to deviceOpen error : %v", err)
	}
	if err := d.dev.DeviceOpen(index, d.options.Serialize(SubsetOpen)); err != nil {
		log.Errorf("openDevice error : %v", err)
		return err
	}
	info, err := d.dev.DeviceInfo(index)
	if err != nil {
		log.Errorf("device info error : %v", err)
		return err
	}
	for key, value := range ParseProperties(info) {
		d.deviceProps[key] = value
	}
	d.applyCapacities()
	return nil
}

// Hardware reports how many filter and interval buffer slots it has, the
// allocator is bounded by those counters. A report without them leaves the
// bounds at zero and every allocation fails until a proper report arrives.
func (d *Driver) applyCapacities() {
	maxFilters := d.propertyCount(PropFilterCount)
	maxIntervals := d.propertyCount(PropIntervalBufferCount)
	d.slots.SetCapacities(maxFilters, maxIntervals)
}

func (d *Driver) propertyCount(key string) int {
	raw, ok := d.deviceProps[key]
	if !ok {
		log.Warnf("device did not report %q", key)
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		log.Warnf("unparseable device property %q = %q", key, raw)
		return 0
	}
	return count
}

// ApplyOptions merges the update and sends the runtime option subset to
// the device.
func (d *Driver) ApplyOptions(options map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.applyOptions(options)
}

func (d *Driver) applyOptions(options map[string]any) error {
	if options != nil {
		if err := d.options.Merge(options); err != nil {
			return err
		}
	}
	optionString := d.options.Serialize(SubsetRuntime)
	log.Infof("setOptions with options %q", optionString)
	if err := d.dev.SetOptions(optionString); err != nil {
		log.Errorf("setOptions error : %v", err)
		return err
	}
	return nil
}

// ResetBus clears the receive FIFO, the transmit FIFO and then restarts
// the controller with an all-clear command mask. Clearing must happen
// before the mode set, stale FIFO and error state survives the reset
// otherwise.
func (d *Driver) ResetBus(index Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.resetBus(index)
}

func (d *Driver) resetBus(index Index) error {
	log.Info("resetCanBus")
	if err := d.dev.ReceiveClear(index); err != nil {
		log.Errorf("receiveClear error : %v", err)
		return err
	}
	if err := d.dev.TransmitClear(index); err != nil {
		log.Errorf("transmitClear error : %v", err)
		return err
	}
	if err := d.dev.SetMode(index, ModeStart|ModeReset, CommandAllClear); err != nil {
		log.Errorf("setMode error : %v", err)
		return err
	}
	return nil
}

// SetBusSpeed sets the CAN bitrate in kbit/s, validated against the fixed
// table before any native call.
func (d *Driver) SetBusSpeed(index Index, bitrate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	if !ValidBitrate(bitrate) {
		return ErrInvalidBitrate
	}
	if err := d.options.Set(OptCanSpeed1, bitrate); err != nil {
		return err
	}
	return d.dev.SetSpeed(index, uint16(bitrate))
}

// SetBusMode sets the controller mode without clearing anything.
func (d *Driver) SetBusMode(index Index, mode BusMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.dev.SetMode(index, mode, CommandNone)
}

// SetModeSilent restarts the bus in listen only mode.
func (d *Driver) SetModeSilent(index Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.dev.SetMode(index, ModeStart|ModeReset|ModeListenOnly, CommandNone)
}

// ClearErrors clears all pending error, FIFO and filter state without
// changing the bus mode.
func (d *Driver) ClearErrors(index Index) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrDriverNotInit
	}
	return d.dev.SetMode(index, ModeNoChange, CommandAllClear)
}

// Status queries the current device status triple.
func (d *Driver) Status(index Index) (DeviceStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return DeviceStatus{}, ErrDriverNotInit
	}
	return d.dev.DeviceStatus(index)
}

// Shutdown clears the bus and releases the native handle, best effort.
// The session is unusable afterwards, every call fails with
// [ErrDriverNotInit].
func (d *Driver) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return
	}
	if err := d.resetBus(d.index); err != nil {
		log.Errorf("bus reset during shutdown failed : %v", err)
	}
	d.dev.DownDriver()
	d.initialized = false
}
