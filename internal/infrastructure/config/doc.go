// Package config handles loading and validating the bridge's configuration.
//
// This package manages:
//   - Loading configuration from YAML files (homes, devices, groups, MQTT,
//     TLS, database settings)
//   - Overriding with environment variables (the CYNC_* convention)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - MQTT credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Topic)
package config
