package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/poolfleet/internal/device"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Devices       device.Stats   `json:"devices"`
	Journal       JournalMetrics `json:"journal"`
	Telemetry     TSMetrics      `json:"telemetry"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
}

// JournalMetrics reports the persisted event journal.
type JournalMetrics struct {
	Enabled bool   `json:"enabled"`
	Dropped uint64 `json:"dropped"`
}

// reconnectCounter is optionally implemented by the ConnectionStatus.
type reconnectCounter interface {
	Reconnects() uint64
}

// TSMetrics reports the time-series telemetry writer.
type TSMetrics struct {
	Enabled     bool   `json:"enabled"`
	WriteErrors uint64 `json:"write_errors"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedMessages:  s.hub.Dropped(),
		},
		Devices: s.registry.Stats(),
		Journal: JournalMetrics{Enabled: s.journal != nil},
	}

	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
		if rc, ok := s.mqtt.(reconnectCounter); ok {
			metrics.MQTT.Reconnects = rc.Reconnects()
		}
	}
	if s.telemetry != nil {
		metrics.Telemetry = TSMetrics{Enabled: true, WriteErrors: s.telemetry.WriteErrors()}
	}
	if s.drops != nil {
		metrics.Journal.Dropped = s.drops.Dropped()
	}

	writeJSON(w, http.StatusOK, metrics)
}
