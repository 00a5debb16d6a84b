// Package config handles loading and validating lifxd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The secret key should be set via the SECRET_KEY environment variable
//   - The config file should have restricted permissions (0600)
//
// Configuration is loaded once at startup and passed to the rest of the
// gateway as an immutable value.
//
// Usage:
//
//	cfg, err := config.Load("configs/lifxd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
