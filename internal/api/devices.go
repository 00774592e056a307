package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/nerrad567/poolfleet/internal/device"
	"github.com/nerrad567/poolfleet/internal/reflector"
)

// snapshotJSON renders decoded payloads with their .proto field names.
var snapshotJSON = protojson.MarshalOptions{UseProtoNames: true}

// DeviceSummary is the list view of one announced device.
type DeviceSummary struct {
	Serial          string    `json:"serial"`
	Category        string    `json:"category"`
	ProductName     string    `json:"product_name"`
	Family          string    `json:"family"`
	SeenAt          time.Time `json:"seen_at"`
	Level           int       `json:"level"`
	IntervalSeconds int       `json:"interval_seconds"`
	Sending         bool      `json:"sending"`
}

// SnapshotView is a decoded payload as JSON plus its text dump.
type SnapshotView struct {
	ReceivedAt time.Time       `json:"received_at"`
	Message    json.RawMessage `json:"message"`
	Text       string          `json:"text"`
}

// DeviceDetail is the full view of one device.
type DeviceDetail struct {
	DeviceSummary
	Announcement json.RawMessage `json:"announcement,omitempty"`
	Info         *SnapshotView   `json:"info,omitempty"`
	Telemetry    *SnapshotView   `json:"telemetry,omitempty"`
}

func (s *Server) summarise(id device.Identity) DeviceSummary {
	rc := s.registry.RuntimeConfig(id.Serial)
	fam, _ := s.registry.ResolveFamily(id.Serial)
	return DeviceSummary{
		Serial:          id.Serial,
		Category:        id.Category,
		ProductName:     id.ProductName,
		Family:          fam.String(),
		SeenAt:          id.SeenAt,
		Level:           rc.Level,
		IntervalSeconds: rc.IntervalSeconds,
		Sending:         rc.Sending,
	}
}

// handleListDevices returns every announced device, sorted by serial.
//
// Query parameters:
//   - family: only devices of this family (icl, sanitizer, unknown)
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	family := r.URL.Query().Get("family")

	devices := make([]DeviceSummary, 0)
	for _, id := range s.registry.Devices() {
		sum := s.summarise(id)
		if family != "" && sum.Family != family {
			continue
		}
		devices = append(devices, sum)
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns one device with its latest info and telemetry.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	serial := chi.URLParam(r, "serial")

	id, ok := s.registry.Identity(serial)
	if !ok {
		writeNotFound(w, "device not found: "+serial)
		return
	}

	detail := DeviceDetail{DeviceSummary: s.summarise(id)}
	if id.Announcement != nil {
		if b, err := snapshotJSON.Marshal(id.Announcement); err == nil {
			detail.Announcement = b
		}
	}
	if snap, ok := s.registry.Info(serial); ok {
		detail.Info = renderSnapshot(snap)
	}
	if snap, ok := s.registry.Telemetry(serial); ok {
		detail.Telemetry = renderSnapshot(snap)
	}

	writeJSON(w, http.StatusOK, detail)
}

func renderSnapshot(snap device.Snapshot) *SnapshotView {
	v := &SnapshotView{ReceivedAt: snap.ReceivedAt, Message: json.RawMessage("{}")}
	if snap.Message == nil {
		return v
	}
	if b, err := snapshotJSON.Marshal(snap.Message); err == nil && len(b) > 0 {
		v.Message = b
	}
	v.Text = reflector.DumpProto(snap.Message)
	return v
}
