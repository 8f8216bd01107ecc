// Package config handles configuration loading for weft-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${WEFT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sync:
//	  write_timeout: "5s"
//	  read_timeout: "60s"
//	  ping_interval: "20s"
//	  dedupe_ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # websocket and API endpoint
//
// Database (empty path runs without persistence):
//
//	database:
//	  path: "/var/lib/weft/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${WEFT_JWT_SECRET}"   # required
//	  token_ttl: "24h"
//
// Access rules:
//
//	rules:
//	  path: "/etc/weft/rules.toml"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
