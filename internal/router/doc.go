// Package router maps device topics to decode paths.
//
// Devices publish on async/<category>/<serial>/<kind> and receive commands
// on cmd/<category>/<serial>/req. Kinds:
//
//	anc    announcement   → registry identity (creates runtime config)
//	info   configuration  → registry info snapshot
//	dt     telemetry      → registry telemetry snapshot, InfluxDB
//	cmdr   command reply  → event only (hex dump on decode failure)
//	error  device error   → event only
//
// Telemetry and command responses are decoded with the schema of the
// device's family, which is resolved from the category the device last
// announced. Messages for devices that have not announced, whose category
// matches no family, or whose family lacks the schema are skipped with a
// distinct warning event for each case.
//
// Handle is synchronous, so messages for a serial are applied in delivery
// order.
package router
