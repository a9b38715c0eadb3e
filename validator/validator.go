package validator

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies a capability kind whose readings are validated
type Kind int

const (
	// Humidity is relative humidity in percent
	Humidity Kind = iota
	// Temperature in whatever unit the upstream API reports
	Temperature
	// Battery level in percent
	Battery
	// Switch is an on/off actuator state, already mapped to 1/0
	Switch
	// SwitchLevel is a dimmer level
	SwitchLevel
)

var kindNames = map[Kind]string{
	Humidity:    "humidity",
	Temperature: "temperature",
	Battery:     "battery",
	Switch:      "switch",
	SwitchLevel: "switchLevel",
}

// String returns the measurement name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Validator decides whether a raw reading is plausible enough to be recorded.
// Rejected readings are dropped silently, they are not errors.
type Validator interface {
	Accept(value interface{}) bool
}

// RangeValidator accepts numeric values within [Min, Max]
type RangeValidator struct {
	Min float64
	Max float64
}

// Accept implements Validator
func (rv RangeValidator) Accept(value interface{}) bool {
	v, ok := Number(value)
	if !ok {
		return false
	}
	return v >= rv.Min && v <= rv.Max
}

// PresenceValidator accepts any non-nil value
type PresenceValidator struct{}

// Accept implements Validator
func (PresenceValidator) Accept(value interface{}) bool {
	return value != nil
}

// NonZeroValidator accepts numeric values that are not zero-like.
// A level of exactly 0 is dropped rather than recorded, matching the legacy logger.
type NonZeroValidator struct{}

// Accept implements Validator
func (NonZeroValidator) Accept(value interface{}) bool {
	if isZeroLike(value) {
		return false
	}
	_, ok := Number(value)
	return ok
}

var kindValidators = map[Kind]Validator{
	Humidity:    RangeValidator{Min: 0, Max: 100},
	Temperature: RangeValidator{Min: 0, Max: 110},
	Battery:     RangeValidator{Min: 0, Max: 100},
	Switch:      PresenceValidator{},
	SwitchLevel: NonZeroValidator{},
}

// ForKind returns the validator used for a kind, nil for an unknown kind
func ForKind(kind Kind) Validator {
	return kindValidators[kind]
}

// Validate reports whether raw is a plausible reading for kind
func Validate(kind Kind, raw interface{}) bool {
	v := ForKind(kind)
	if v == nil {
		return false
	}
	return v.Accept(raw)
}

// Number converts a decoded JSON scalar to float64.
// Strings are not coerced.
func Number(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isZeroLike(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	}
	n, ok := Number(value)
	return ok && n == 0
}
