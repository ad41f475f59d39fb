// Package config provides configuration loading and validation for the
// workflow runtime.
//
// It uses Viper to load a YAML config file and overlay environment
// variables (optionally read from a .env file), then unmarshals the result
// into a config struct. RuntimeConfig aggregates the sections of a full
// runtime instance: scheduler options, pooled resources, circuit breaker
// defaults, query pipelines, and metrics.
//
// # Usage
//
//	var cfg config.RuntimeConfig
//	if err := config.Load("flowkit", &cfg); err != nil { ... }
//	cfg.ApplyDefaults()
//	if err := cfg.Validate(); err != nil { ... }
package config
