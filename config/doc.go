// Package config loads the service configuration.
//
// Values come from an optional config.yaml (searched in "." and "./config"),
// overridden by CASEGEN_* environment variables, e.g. CASEGEN_DOCKER_TIMEOUT_SEC.
// Every field has a default, so the service starts without a config file.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Languages dir: %s\n", cfg.Docker.LanguagesDir)
package config
