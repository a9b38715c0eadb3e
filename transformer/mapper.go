package transformer

import (
	"fmt"

	"github.com/eddielth/smartthings-influx/logger"
	"github.com/eddielth/smartthings-influx/validator"
)

// StatusPayload is a decoded device status document:
// {"components": {"main": {<capability>: {<attribute>: {"value", "unit", "timestamp"}}}}}
type StatusPayload map[string]interface{}

// DropReason says why a present capability produced no point
type DropReason string

const (
	DropMissing            DropReason = "missing"
	DropOutOfRange         DropReason = "out_of_range"
	DropMalformedTimestamp DropReason = "malformed_timestamp"
	DropScriptError        DropReason = "script_error"
)

// DropHandler observes readings that were skipped. It cannot change the output.
type DropHandler func(device DeviceInfo, measurement string, reason DropReason)

// Mapper turns device status payloads into measurement points. It holds no
// per-call state, so one Mapper may be shared by concurrent pollers.
type Mapper struct {
	scripts *Manager
	onDrop  DropHandler
}

// NewMapper creates a mapper over the built-in capabilities plus the
// script capabilities held by scripts, which may be nil.
func NewMapper(scripts *Manager) *Mapper {
	return &Mapper{scripts: scripts}
}

// OnDrop registers a handler for skipped readings
func (m *Mapper) OnDrop(handler DropHandler) {
	m.onDrop = handler
}

// MapStatus maps a status payload using the built-in capabilities only
func MapStatus(device DeviceInfo, status StatusPayload) []Point {
	return (&Mapper{}).Map(device, status)
}

// Map returns the points for one device, in capability table order.
// Absent sections, absent values and implausible readings yield no point.
func (m *Mapper) Map(device DeviceInfo, status StatusPayload) []Point {
	main := asObject(asObject(status["components"])["main"])

	capabilities := builtinCapabilities
	if m.scripts != nil {
		capabilities = append(BuiltinCapabilities(), m.scripts.Capabilities()...)
	}

	points := make([]Point, 0, len(capabilities))
	for _, c := range capabilities {
		block, ok := main[c.Component]
		if !ok {
			continue
		}
		logger.Debug("device %s component %s: %v", device.DeviceID, c.Component, block)

		if p, ok := m.mapCapability(device, c, asObject(block)); ok {
			points = append(points, p)
		}
	}

	logger.Debug("device %s (%s): created %d points", device.DeviceID, device.DeviceName, len(points))
	return points
}

func (m *Mapper) mapCapability(device DeviceInfo, c Capability, block map[string]interface{}) (Point, bool) {
	reading := asObject(block[c.Attribute])
	raw := reading["value"]
	if raw == nil {
		m.drop(device, c.Measurement, DropMissing)
		return Point{}, false
	}

	timestamp, tsOK := reading["timestamp"].(string)
	if !tsOK && reading["timestamp"] != nil {
		logger.Warn("device %s %s: %v", device.DeviceID, c.Measurement,
			fmt.Errorf("%w: %v", ErrMalformedTimestamp, reading["timestamp"]))
		m.drop(device, c.Measurement, DropMalformedTimestamp)
		return Point{}, false
	}

	value, err := c.transform(raw, timestamp)
	if err != nil {
		logger.Warn("device %s %s: transform failed: %v", device.DeviceID, c.Measurement, err)
		m.drop(device, c.Measurement, DropScriptError)
		return Point{}, false
	}
	if value == nil {
		m.drop(device, c.Measurement, DropMissing)
		return Point{}, false
	}

	if c.Validator == nil || !c.Validator.Accept(value) {
		m.drop(device, c.Measurement, DropOutOfRange)
		return Point{}, false
	}
	n, ok := validator.Number(value)
	if !ok {
		m.drop(device, c.Measurement, DropOutOfRange)
		return Point{}, false
	}

	normalized, err := NormalizeTimestamp(timestamp)
	if err != nil {
		logger.Warn("device %s %s: %v", device.DeviceID, c.Measurement, err)
		m.drop(device, c.Measurement, DropMalformedTimestamp)
		return Point{}, false
	}

	return BuildPoint(device, c.Measurement, n, normalized), true
}

func (m *Mapper) drop(device DeviceInfo, measurement string, reason DropReason) {
	logger.Debug("device %s: dropped %s reading (%s)", device.DeviceID, measurement, reason)
	if m.onDrop != nil {
		m.onDrop(device, measurement, reason)
	}
}

// asObject returns v as a JSON object, or an empty one
func asObject(v interface{}) map[string]interface{} {
	switch obj := v.(type) {
	case map[string]interface{}:
		return obj
	case StatusPayload:
		return obj
	default:
		return map[string]interface{}{}
	}
}
