// Package config provides configuration management for Torvus Console.
//
// Configuration is resolved in three layers, each overriding the previous one:
//
//   - Built-in defaults
//   - The YAML file torvus.yml (in TORVUS_CONFIG_PATH, default /etc/torvus)
//   - TORVUS_* environment variables
//
// Every attribute records which layer its value came from, so that
// "torvusctl configuration show" can explain the effective configuration.
//
// Process secrets are never read from the file:
//
//   - DATABASE_URL: primary database connection
//   - AUDIT_DATABASE_URL: audit database connection (defaults to DATABASE_URL)
//   - TORVUS_DATA_KEY: base64 AES-256 key for secret payloads
package config
