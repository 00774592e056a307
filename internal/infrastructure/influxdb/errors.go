package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry export is switched off.
	ErrDisabled = errors.New("influxdb: telemetry export disabled")

	// ErrConnectionFailed wraps ping and readiness failures during Connect.
	ErrConnectionFailed = errors.New("influxdb: cannot reach server")

	// ErrNotConnected is reported by HealthCheck after Close or a failed ping.
	ErrNotConnected = errors.New("influxdb: client not connected")
)
