// Package config handles loading and validating identity service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading an optional dotenv file
//   - Overriding with IDENTITY_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - JWT secrets and the RSA private key should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Access and refresh secrets must be distinct and at least 32 characters
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
