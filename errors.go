package tinycan

import "errors"

// Error is a native Tiny-CAN API status code. Every call into the device
// boundary returns 0 (or a positive count) on success and one of these
// negative codes on failure.
type Error int8

func (e Error) Error() string {
	description, ok := errorDescriptions[e]
	if ok {
		return description
	}
	return "Unknown error"
}

const (
	ErrDriverNotInit       Error = -1
	ErrInvalidParameter    Error = -2
	ErrInvalidIndex        Error = -3
	ErrInvalidChannel      Error = -4
	ErrCommon              Error = -5
	ErrFifoWrite           Error = -6
	ErrBufferWrite         Error = -7
	ErrFifoRead            Error = -8
	ErrBufferRead          Error = -9
	ErrVarNotFound         Error = -10
	ErrVarNotReadable      Error = -11
	ErrReadBufferTooSmall  Error = -12
	ErrVarNotWritable      Error = -13
	ErrWriteBufferTooSmall Error = -14
	ErrBelowMinimum        Error = -15
	ErrAboveMaximum        Error = -16
	ErrAccessDenied        Error = -17
	ErrInvalidCanSpeed     Error = -18
	ErrInvalidBaudRate     Error = -19
	ErrVarNotAssigned      Error = -20
	ErrNoConnection        Error = -21
	ErrCommunication       Error = -22
	ErrParameterCount      Error = -23
	ErrLowMemory           Error = -24
	ErrOSResources         Error = -25
	ErrSyscall             Error = -26
	ErrMainThreadBusy      Error = -27
)

// A map between the native error codes and their description
var errorDescriptions = map[Error]string{
	ErrDriverNotInit:       "Driver not initialized",
	ErrInvalidParameter:    "Called with Invalid Parameters",
	ErrInvalidIndex:        "Invalid Index",
	ErrInvalidChannel:      "Invalid CAN Channel",
	ErrCommon:              "Common Error",
	ErrFifoWrite:           "FIFO Write Error",
	ErrBufferWrite:         "Buffer Write Error",
	ErrFifoRead:            "FIFO Read Error",
	ErrBufferRead:          "Buffer Read Error",
	ErrVarNotFound:         "Variable not found",
	ErrVarNotReadable:      "Variable is not readable",
	ErrReadBufferTooSmall:  "Read Buffer to small for Variable",
	ErrVarNotWritable:      "Variable is not writable",
	ErrWriteBufferTooSmall: "Write Buffer to small for Variable",
	ErrBelowMinimum:        "Below Minimum Value",
	ErrAboveMaximum:        "Above Maximum Value",
	ErrAccessDenied:        "Access Denied",
	ErrInvalidCanSpeed:     "Invalid CAN Speed",
	ErrInvalidBaudRate:     "Invalid Baud Rate",
	ErrVarNotAssigned:      "Variable not assigned",
	ErrNoConnection:        "No Connection to Hardware",
	ErrCommunication:       "Communication Error with Hardware",
	ErrParameterCount:      "Hardware sends wrong Number of Parameters",
	ErrLowMemory:           "RAM Memory too low",
	ErrOSResources:         "OS does not provide enough resources",
	ErrSyscall:             "OS Syscall Error",
	ErrMainThreadBusy:      "Main Thread is busy",
}

// Errors raised locally, before any native call is made.
var (
	ErrFrameTooLarge         = errors.New("messages with more than 8 data bytes are not supported")
	ErrNoFreeSlot            = errors.New("no free slot available")
	ErrUnknownOption         = errors.New("unknown option key")
	ErrInvalidOptionValue    = errors.New("option value must be an integer or a string")
	ErrInvalidBitrate        = errors.New("bitrate not in supported table")
	ErrUnsupportedBatchEvent = errors.New("rx event with more than 1 message is not supported")
)
