// ABOUTME: Package config loads the YAML configuration with env expansion.
// ABOUTME: Raw duration strings are parsed and defaults applied before validation.

// Package config defines the agrobot configuration schema and loader.
package config
