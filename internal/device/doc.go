// Package device provides the Device Registry for poolfleet.
//
// The Registry is the only shared mutable state in the service. It holds
// the session state of every device seen on the bus since start-up:
//
//	┌───────────────────────── Registry ─────────────────────────┐
//	│  identities   serial → Identity        (announcements)     │
//	│  info         serial → Snapshot        (info responses)    │
//	│  telemetry    serial → Snapshot        (telemetry)         │
//	│  configs      serial → RuntimeConfig   (sender settings)   │
//	└────────────────────────────────────────────────────────────┘
//	       ▲ router writes        ▲ sender reads/writes   │ Changes()
//	                                                      ▼
//	                                              api WebSocket hub
//
// Nothing is persisted; a restart begins with an empty registry.
//
// # Families
//
// A device's Family is computed on demand from its announced category by a
// Classifier, so it always reflects the latest announcement. Keyword rules
// come from configuration.
//
// # Thread Safety
//
// Each map is guarded by its own sync.RWMutex. RecordAnnouncement creates
// the runtime config before it publishes the identity.
package device
