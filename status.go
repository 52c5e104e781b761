package tinycan

import "fmt"

// DriverState describes the driver part of the device status triple.
type DriverState int32

const (
	DrvNotLoaded    DriverState = 0
	DrvNotInit      DriverState = 1
	DrvInit         DriverState = 2
	DrvPortNotOpen  DriverState = 3
	DrvPortOpen     DriverState = 4
	DrvDeviceFound  DriverState = 5
	DrvCanOpen      DriverState = 6
	DrvCanRunTxOnly DriverState = 7
	DrvCanRun       DriverState = 8
)

var driverStateNames = map[DriverState]string{
	DrvNotLoaded:    "DRV_NOT_LOAD",
	DrvNotInit:      "DRV_STATUS_NOT_INIT",
	DrvInit:         "DRV_STATUS_INIT",
	DrvPortNotOpen:  "DRV_STATUS_PORT_NOT_OPEN",
	DrvPortOpen:     "DRV_STATUS_PORT_OPEN",
	DrvDeviceFound:  "DRV_STATUS_DEVICE_FOUND",
	DrvCanOpen:      "DRV_STATUS_CAN_OPEN",
	DrvCanRunTxOnly: "DRV_STATUS_CAN_RUN_TX",
	DrvCanRun:       "DRV_STATUS_CAN_RUN",
}

func (s DriverState) String() string {
	if name, ok := driverStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(s))
}

// BusState describes the CAN controller part of the status triple.
type BusState uint8

const (
	BusOK      BusState = 0
	BusError   BusState = 1
	BusWarning BusState = 2
	BusPassive BusState = 3
	BusOff     BusState = 4
	BusInvalid BusState = 5
)

var busStateNames = map[BusState]string{
	BusOK:      "CAN_STATUS_OK",
	BusError:   "CAN_STATUS_ERROR",
	BusWarning: "CAN_STATUS_WARNING",
	BusPassive: "CAN_STATUS_PASSIVE",
	BusOff:     "CAN_STATUS_BUS_OFF",
	BusInvalid: "CAN_STATUS_INVALID",
}

func (s BusState) String() string {
	if name, ok := busStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// FifoState describes the FIFO part of the status triple. The value 4 is
// reported by some firmware revisions but undocumented.
type FifoState uint8

const (
	FifoOK      FifoState = 0
	FifoOverrun FifoState = 1
	FifoInvalid FifoState = 2
	FifoUnknown FifoState = 4
)

var fifoStateNames = map[FifoState]string{
	FifoOK:      "FIFO_STATUS_OK",
	FifoOverrun: "FIFO_STATUS_OVERRUN",
	FifoInvalid: "FIFO_STATUS_INVALID",
	FifoUnknown: "FIFO_STATUS_Unknown",
}

func (s FifoState) String() string {
	if name, ok := fifoStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// DeviceStatus is the status triple reported by the firmware.
type DeviceStatus struct {
	Driver DriverState
	Bus    BusState
	Fifo   FifoState
}

// FormatDeviceStatus renders the status triple in the canonical diagnostic
// shape, e.g.
//
//	Driver: DRV_STATUS_CAN_RUN, CAN: CAN_STATUS_OK, Fifo: FIFO_STATUS_OK
func FormatDeviceStatus(status DeviceStatus) string {
	return fmt.Sprintf("Driver: %s, CAN: %s, Fifo: %s", status.Driver, status.Bus, status.Fifo)
}
