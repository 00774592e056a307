package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// TelemetryMeasurement is the measurement device telemetry is written to.
const TelemetryMeasurement = "device_telemetry"

// WriteTelemetry writes one decoded telemetry payload as a single point,
// tagged by serial and family. fields is the flattened numeric view of the
// payload (dotted paths, bools as 0/1). Empty payloads are not written.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteTelemetry("SN1", "sanitizer", map[string]float64{"ppm_salt": 3200})
func (c *Client) WriteTelemetry(serial, family string, fields map[string]float64) {
	if !c.IsConnected() {
		return
	}

	if p := telemetryPoint(serial, family, fields, time.Now()); p != nil {
		c.writeAPI.WritePoint(p)
	}
}

// telemetryPoint builds the point for WriteTelemetry, or nil if there is
// nothing to write.
func telemetryPoint(serial, family string, fields map[string]float64, ts time.Time) *write.Point {
	if len(fields) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}

	return write.NewPoint(
		TelemetryMeasurement,
		map[string]string{
			"serial": serial,
			"family": family,
		},
		values,
		ts,
	)
}
