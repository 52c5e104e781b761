package tinycan

import (
	log "github.com/sirupsen/logrus"
)

// TransmitData sends a single shot transmission of up to 8 data bytes on
// the given index, the zero index addresses the default transmit FIFO. The
// DLC always equals len(data), the extended format flag follows from the
// identifier range and the transmit originated flag is always set. Payloads
// beyond 8 bytes fail with [ErrFrameTooLarge] before any native call.
// Native errors are propagated verbatim, retrying is a caller concern.
func (d *Driver) TransmitData(index Index, id uint32, data []byte, rtr bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transmitData(index, id, data, rtr)
}

func (d *Driver) transmitData(index Index, id uint32, data []byte, rtr bool) error {
	if !d.initialized {
		return ErrDriverNotInit
	}
	msg, err := NewMessage(id, data)
	if err != nil {
		log.Errorf("transmitData : %v", err)
		return err
	}
	msg.Flags = msg.Flags.WithTxD(true).WithRTR(rtr)
	log.Debugf("transmitData id %#x dlc %d on index %#x", id, msg.Flags.DLC(), uint32(index))
	if err := d.dev.Transmit(index, msg, 1); err != nil {
		log.Errorf("transmitData error : %v", err)
		return err
	}
	return nil
}

// SetIntervalMessage loads a message into an interval transmit buffer and
// enables its periodic retransmission. A zero index allocates the lowest
// free interval slot, failing with [ErrNoFreeSlot] when the device has none
// left. The slot's timer is disabled first, then the payload is loaded by a
// one shot transmission through the slot, then the timer is enabled with
// the interval converted to microseconds. The slot is recorded as in use
// only once the whole sequence succeeded.
func (d *Driver) SetIntervalMessage(index Index, id uint32, data []byte, intervalMs int) (Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0, ErrDriverNotInit
	}
	log.Info("setIntervalMessage")
	if index == 0 {
		slot, err := d.slots.AllocateIntervalSlot()
		if err != nil {
			log.Errorf("setIntervalMessage : %v", err)
			return 0, err
		}
		index = slot
	}
	intervalUsec := uint32(intervalMs) * 1000
	err := d.dev.TransmitSet(index, IntervalDisable, intervalUsec)
	if err == nil {
		err = d.transmitData(index, id, data, false)
	}
	if err == nil {
		err = d.dev.TransmitSet(index, IntervalEnable, intervalUsec)
	}
	if err != nil {
		log.Errorf("setIntervalMessage error : %v", err)
		return index, err
	}
	d.slots.MarkUsed(index, SlotInterval)
	return index, nil
}

// SetFilter installs a message filter for the given id and mask. A zero
// index allocates the lowest free filter slot. length > 0 enables the DLC
// check for exactly that length, otherwise lengths are not compared. The
// filter is always created enabled, with simple mask/code comparison and
// non matching messages dropped; data content filtering is not supported
// by the hardware. The slot is recorded as in use on success, the
// allocated index is returned either way.
func (d *Driver) SetFilter(index Index, id uint32, mask uint32, length int, rtr bool) (Index, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0, ErrDriverNotInit
	}
	log.Info("setFilter")
	if index == 0 {
		slot, err := d.slots.AllocateFilterSlot()
		if err != nil {
			log.Errorf("setFilter : %v", err)
			return 0, err
		}
		index = slot
	}
	var flags FilterFlags
	// The EFF filter flag is unimplemented in the vendor library, setting
	// it makes the filter stop working, so it stays unset even for 29 bit
	// identifiers.
	if length > 0 {
		flags = flags.WithDLC(uint8(length)).WithDlcCheck(true)
	}
	flags = flags.WithRTR(rtr).WithEnabled(true)
	filter := Filter{Mask: mask, Code: id, Flags: flags}
	if err := d.dev.SetFilter(index, filter); err != nil {
		log.Errorf("setFilter error : %v", err)
		return index, err
	}
	d.slots.MarkUsed(index, SlotFilter)
	return index, nil
}

// Receive reads up to count messages from the given index. A native error
// is terminal for the whole call, there is no partial success. Received
// messages carry their receive timestamp.
func (d *Driver) Receive(index Index, count int) ([]Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, ErrDriverNotInit
	}
	messages, err := d.dev.Receive(index, count)
	if err != nil {
		log.Errorf("receive error : %v", err)
		return nil, err
	}
	log.Debugf("receive : %d message(s)", len(messages))
	return messages, nil
}

// ReceiveAndFormat reads like [Driver.Receive] and renders every message
// through [FormatMessage].
func (d *Driver) ReceiveAndFormat(index Index, count int) ([]string, error) {
	messages, err := d.Receive(index, count)
	if err != nil {
		return nil, err
	}
	formatted := make([]string, 0, len(messages))
	for _, msg := range messages {
		formatted = append(formatted, FormatMessage(msg))
	}
	return formatted, nil
}

// TransmitGetCount returns the number of messages waiting in the transmit
// FIFO of the given index.
func (d *Driver) TransmitGetCount(index Index) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0, ErrDriverNotInit
	}
	return d.dev.TransmitGetCount(index)
}

// ReceiveGetCount returns the number of messages waiting in the receive
// FIFO of the given index.
func (d *Driver) ReceiveGetCount(index Index) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return 0, ErrDriverNotInit
	}
	return d.dev.ReceiveGetCount(index)
}
