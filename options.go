package tinycan

import (
	"fmt"
	"strconv"
	"strings"
)

// The fixed set of option keys understood by the Tiny-CAN API. Options are
// passed to the firmware as a comma separated key=value string, split into
// three subsets for the three calls that accept options.
const (
	OptCanRxDFifoSize        = "CanRxDFifoSize"
	OptCanTxDFifoSize        = "CanTxDFifoSize"
	OptCanRxDMode            = "CanRxDMode"
	OptCanRxDBufferSize      = "CanRxDBufferSize"
	OptCanCallThread         = "CanCallThread"
	OptMainThreadPriority    = "MainThreadPriority"
	OptCallThreadPriority    = "CallThreadPriority"
	OptHardware              = "Hardware"
	OptCfgFile               = "CfgFile"
	OptSection               = "Section"
	OptLogFile               = "LogFile"
	OptLogFlags              = "LogFlags"
	OptTimeStampMode         = "TimeStampMode"
	OptCanTxAckEnable        = "CanTxAckEnable"
	OptCanSpeed1             = "CanSpeed1"
	OptCanSpeed1User         = "CanSpeed1User"
	OptAutoConnect           = "AutoConnect"
	OptAutoReopen            = "AutoReopen"
	OptMinEventSleepTime     = "MinEventSleepTime"
	OptExecuteCommandTimeout = "ExecuteCommandTimeout"
	OptLowPollIntervall      = "LowPollIntervall"
	OptFilterReadIntervall   = "FilterReadIntervall"
	OptPort                  = "Port"
	OptComDeviceName         = "ComDeviceName"
	OptBaudRate              = "BaudRate"
	OptVendorId              = "VendorId"
	OptProductId             = "ProductId"
	OptSnr                   = "Snr"
)

// OptionSubset selects which firmware call a serialization is meant for.
type OptionSubset int

const (
	SubsetInit OptionSubset = iota
	SubsetOpen
	SubsetRuntime
)

// Key order within a subset is the order the vendor documentation lists
// them in, serialization preserves it.
var initDriverKeys = []string{
	OptCanRxDFifoSize, OptCanTxDFifoSize, OptCanRxDMode, OptCanRxDBufferSize,
	OptCanCallThread, OptMainThreadPriority, OptCallThreadPriority,
	OptHardware, OptCfgFile, OptSection, OptLogFile, OptLogFlags,
	OptTimeStampMode,
}

var deviceOpenKeys = []string{
	OptPort, OptComDeviceName, OptBaudRate, OptVendorId, OptProductId, OptSnr,
}

var setOptionKeys = []string{
	OptCanTxAckEnable, OptCanSpeed1, OptCanSpeed1User, OptAutoConnect,
	OptAutoReopen, OptMinEventSleepTime, OptExecuteCommandTimeout,
	OptLowPollIntervall, OptFilterReadIntervall,
}

var validOptionKeys = func() map[string]bool {
	valid := make(map[string]bool)
	for _, keys := range [][]string{initDriverKeys, deviceOpenKeys, setOptionKeys} {
		for _, key := range keys {
			valid[key] = true
		}
	}
	return valid
}()

// optionValue is a tagged scalar, either an integer or a short string.
type optionValue struct {
	number  int
	text    string
	numeric bool
}

func (v optionValue) render() string {
	if v.numeric {
		return strconv.Itoa(v.number)
	}
	return v.text
}

// Options is the typed option registry of a driver session. Unset keys are
// omitted from serialization, never defaulted.
type Options struct {
	values map[string]optionValue
}

func NewOptions() *Options {
	return &Options{values: make(map[string]optionValue)}
}

// Merge performs a key wise overwrite: new keys are added, matching keys
// replaced, all others untouched. A key outside the fixed set fails with
// [ErrUnknownOption], a value that is neither an integer nor a string with
// [ErrInvalidOptionValue]. Nothing is merged on failure.
func (o *Options) Merge(update map[string]any) error {
	staged := make(map[string]optionValue, len(update))
	for key, raw := range update {
		if !validOptionKeys[key] {
			return fmt.Errorf("%w: %q", ErrUnknownOption, key)
		}
		switch value := raw.(type) {
		case int:
			staged[key] = optionValue{number: value, numeric: true}
		case string:
			staged[key] = optionValue{text: value}
		default:
			return fmt.Errorf("%w: %q (%T)", ErrInvalidOptionValue, key, raw)
		}
	}
	for key, value := range staged {
		o.values[key] = value
	}
	return nil
}

// Set stores a single option, same validation as [Options.Merge].
func (o *Options) Set(key string, value any) error {
	return o.Merge(map[string]any{key: value})
}

// Get returns the rendered value of a key and whether it is set.
func (o *Options) Get(key string) (string, bool) {
	value, ok := o.values[key]
	if !ok {
		return "", false
	}
	return value.render(), true
}

// Serialize renders the chosen subset into the firmware wire format,
// key=value pairs separated by commas, unset keys skipped. An empty subset
// yields an empty string. Values may not contain commas, no escaping is
// defined for the wire format.
func (o *Options) Serialize(subset OptionSubset) string {
	var keys []string
	switch subset {
	case SubsetInit:
		keys = initDriverKeys
	case SubsetOpen:
		keys = deviceOpenKeys
	case SubsetRuntime:
		keys = setOptionKeys
	}
	var pairs []string
	for _, key := range keys {
		value, ok := o.values[key]
		if !ok {
			continue
		}
		pairs = append(pairs, key+"="+value.render())
	}
	return strings.Join(pairs, ",")
}

// ParseProperties parses a firmware reported property string, the same
// comma separated key=value format the options use. Malformed fragments
// are skipped, firmware revisions differ in what they report.
func ParseProperties(raw string) map[string]string {
	properties := make(map[string]string)
	for _, fragment := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(fragment, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		properties[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return properties
}
