// Package config provides configuration management for the serverless worker.
//
// Configuration is loaded from environment variables and validated on startup.
// Every control plane endpoint is optional: a worker with no webhooks set runs
// in local mode, reading its job from a fixture file and logging results.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg)
package config
