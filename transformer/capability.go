package transformer

import (
	"github.com/eddielth/smartthings-influx/validator"
)

// TransformFunc maps a raw attribute value to the value handed to the validator.
// A nil result means the reading is absent.
type TransformFunc func(raw interface{}, timestamp string) (interface{}, error)

// Capability describes where one reading lives in a device status and how
// it becomes a point. The payload path is components.main.<Component>.<Attribute>.
type Capability struct {
	Component   string
	Attribute   string
	Measurement string
	Validator   validator.Validator
	Transform   TransformFunc
}

func (c Capability) transform(raw interface{}, timestamp string) (interface{}, error) {
	if c.Transform == nil {
		return raw, nil
	}
	return c.Transform(raw, timestamp)
}

func kindCapability(kind validator.Kind, component, attribute string, transform TransformFunc) Capability {
	return Capability{
		Component:   component,
		Attribute:   attribute,
		Measurement: kind.String(),
		Validator:   validator.ForKind(kind),
		Transform:   transform,
	}
}

// switchState maps "on" to 1 and any other value to 0
func switchState(raw interface{}, _ string) (interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && s == "on" {
		return 1.0, nil
	}
	return 0.0, nil
}

// builtinCapabilities are visited in this order for every device
var builtinCapabilities = []Capability{
	kindCapability(validator.Humidity, "relativeHumidityMeasurement", "humidity", nil),
	kindCapability(validator.Temperature, "temperatureMeasurement", "temperature", nil),
	kindCapability(validator.Battery, "battery", "battery", nil),
	kindCapability(validator.Switch, "switch", "switch", switchState),
	kindCapability(validator.SwitchLevel, "switchLevel", "level", nil),
}

// BuiltinCapabilities returns a copy of the fixed capability table
func BuiltinCapabilities() []Capability {
	caps := make([]Capability, len(builtinCapabilities))
	copy(caps, builtinCapabilities)
	return caps
}

func isBuiltinComponent(component string) bool {
	for _, c := range builtinCapabilities {
		if c.Component == component {
			return true
		}
	}
	return false
}
