// Package config handles loading and validating the sensor relay configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (RELAY_* and the legacy
//     JWT_HOME_SECRET / ALLOW_ORIGIN / STATIC_DIR names)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The signing secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
