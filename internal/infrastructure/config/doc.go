// Package config handles loading and validating field relay configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding secrets and endpoints with environment variables
//   - Validation of the collector, polling, and device sections
//   - Default value handling
//
// Security Considerations:
//   - The collector API key and device passwords should be supplied via
//     environment variables or a file readable only by the agent user (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Agent.ID, len(cfg.Devices))
package config
