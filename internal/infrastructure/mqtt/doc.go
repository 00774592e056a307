// Package mqtt provides MQTT client connectivity for the fleet service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS validation and a payload size cap
//   - Topic subscriptions, restored after every reconnect
//   - A retained online/offline status with Last Will and Testament
//
// Inbound handlers are delivered in arrival order. The router relies on
// this to keep each device's messages ordered.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for _, filter := range router.Subscriptions() {
//	    if err := client.Subscribe(filter, 0, r.Handle); err != nil {
//	        return err
//	    }
//	}
package mqtt
