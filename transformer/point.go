package transformer

// Tag keys carried by every point, kept from the legacy influxDB-logger schema
const (
	TagDeviceID   = "deviceId"
	TagDeviceName = "deviceName"

	// FieldValue is the single field every point carries
	FieldValue = "value"
)

// DeviceInfo identifies one device for the duration of a polling cycle
type DeviceInfo struct {
	DeviceID   string `json:"deviceId"`
	DeviceName string `json:"deviceName"`
}

// Point is one measurement destined for the time-series sink.
// Time is either empty or formatted as 2006-01-02T15:04:05Z.
type Point struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Time        string             `json:"time,omitempty"`
}

// Value returns the point's value field
func (p Point) Value() float64 {
	return p.Fields[FieldValue]
}

// DeviceID returns the deviceId tag
func (p Point) DeviceID() string {
	return p.Tags[TagDeviceID]
}

// DeviceName returns the deviceName tag
func (p Point) DeviceName() string {
	return p.Tags[TagDeviceName]
}

// HasTime reports whether the point carries its own timestamp
func (p Point) HasTime() bool {
	return p.Time != ""
}

// BuildPoint constructs a point. It does no validation, callers validate
// the value before building.
func BuildPoint(device DeviceInfo, measurement string, value float64, normalizedTime string) Point {
	return Point{
		Measurement: measurement,
		Tags: map[string]string{
			TagDeviceID:   device.DeviceID,
			TagDeviceName: device.DeviceName,
		},
		Fields: map[string]float64{
			FieldValue: value,
		},
		Time: normalizedTime,
	}
}
