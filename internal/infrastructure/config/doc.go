// Package config handles loading and validating poolfleet configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The schemas section is the versioned data that drives device handling:
// the descriptor set to load, the message names per role, and the family
// keyword lists used to classify announced categories. New families are
// added here, not in code.
//
// Sensitive values (MQTT password, InfluxDB token) should be set via
// environment variables.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
