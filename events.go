package tinycan

import (
	log "github.com/sirupsen/logrus"
)

// EventMask is the 16 bit event register of the native API. Each of the
// three notification channels has a dedicated enable bit in the low byte
// and a disable bit in the high byte.
type EventMask uint16

const (
	EventEnablePnPChange        EventMask = 0x0001
	EventEnableStatusChange     EventMask = 0x0002
	EventEnableRxFilterMessages EventMask = 0x0004
	EventEnableRxMessages       EventMask = 0x0008
	EventEnableAll              EventMask = 0x00FF

	EventDisablePnPChange        EventMask = 0x0100
	EventDisableStatusChange     EventMask = 0x0200
	EventDisableRxFilterMessages EventMask = 0x0400
	EventDisableRxMessages       EventMask = 0x0800
	EventDisableAll              EventMask = 0xFF00
)

// PnPHandler handles plug and play notifications, connected is true when
// the device reappeared on the port.
type PnPHandler func(index Index, connected bool)

// StatusHandler handles bus status change notifications.
type StatusHandler func(index Index, status DeviceStatus)

// RxHandler handles receive notifications. msg is nil when the driver was
// not configured to attach the message to the event.
type RxHandler func(index Index, msg *Message, count int) error

// dispatcher maps the three native notification channels onto handler
// functions chosen at registration time. Handlers get immutable event data
// and must go through the session's control operations for anything else.
type dispatcher struct {
	pnp    PnPHandler
	status StatusHandler
	rx     RxHandler
}

func (d *dispatcher) handlePnP(index Index, connected bool) {
	log.Infof("pnp event for index %#x, connected: %v", uint32(index), connected)
	d.pnp(index, connected)
}

func (d *dispatcher) handleStatus(index Index, status DeviceStatus) {
	log.Infof("status change event for index %#x", uint32(index))
	d.status(index, status)
}

func (d *dispatcher) handleRx(index Index, msg *Message, count int) {
	if err := d.rx(index, msg, count); err != nil {
		log.Errorf("rx event handler failed : %v", err)
	}
}

// SetupEvents installs the three event handlers, falling back to the
// built-in handlers for any nil argument, registers the native callbacks
// and enables all event channels. The built-in PnP handler reopens the
// device and restarts the bus on reconnect.
func (d *Driver) SetupEvents(pnp PnPHandler, status StatusHandler, rx RxHandler) error {
	if pnp == nil {
		pnp = d.defaultPnPHandler
	}
	if status == nil {
		status = d.defaultStatusHandler
	}
	if rx == nil {
		rx = d.defaultRxHandler
	}
	d.events = &dispatcher{pnp: pnp, status: status, rx: rx}

	if err := d.dev.SetPnPCallback(d.events.handlePnP); err != nil {
		log.Errorf("error while setting pnp callback : %v", err)
		return err
	}
	if err := d.dev.SetStatusCallback(d.events.handleStatus); err != nil {
		log.Errorf("error while setting status event callback : %v", err)
		return err
	}
	if err := d.dev.SetRxCallback(d.events.handleRx); err != nil {
		log.Errorf("error while setting rx event callback : %v", err)
		return err
	}
	return d.SetEvents(EventEnableAll)
}

// SetEvents writes the event enable/disable mask register.
func (d *Driver) SetEvents(mask EventMask) error {
	log.Debugf("set events mask %#04x", uint16(mask))
	err := d.dev.SetEvents(mask)
	if err != nil {
		log.Errorf("set events error : %v", err)
	}
	return err
}

// Built-in PnP handler: reopen the device and restart the bus after a
// reconnect, a disconnect is only logged.
func (d *Driver) defaultPnPHandler(index Index, connected bool) {
	if !connected {
		log.Warn("device disconnected")
		return
	}
	if err := d.OpenDevice(index, nil, ""); err != nil {
		log.Errorf("reopen after reconnect failed : %v", err)
		return
	}
	if err := d.dev.SetMode(index, ModeStart, CommandAllClear); err != nil {
		log.Errorf("bus restart after reconnect failed : %v", err)
		return
	}
	log.Info("device connected")
}

// Built-in status handler: render the status triple.
func (d *Driver) defaultStatusHandler(index Index, status DeviceStatus) {
	log.Info(FormatDeviceStatus(status))
}

// Built-in rx handler: render the single received message. The firmware is
// not known to ever deliver more than one message per notification, a
// larger batch fails the invocation rather than dropping frames silently.
func (d *Driver) defaultRxHandler(index Index, msg *Message, count int) error {
	if count > 1 {
		return ErrUnsupportedBatchEvent
	}
	if msg == nil {
		log.Infof("rx event from index %#x with no message attached", uint32(index))
		return nil
	}
	log.Infof("rx event from index %#x : %s", uint32(index), FormatMessage(*msg))
	return nil
}
