// Package config provides configuration management for tollgate.
//
// Configuration is read from a YAML file, completed with defaults, optionally
// overridden by environment variables and then validated:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("tollgate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TOLLGATE_SECTION_FIELD.
// For example:
//
//   - TOLLGATE_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TOLLGATE_QUOTA_GUEST_MAX_REQUESTS overrides quota.guest_max_requests
//   - TOLLGATE_STORAGE_REDIS_ADDRESS overrides storage.redis.address
//
// Environment variables always take precedence over file-based configuration.
//
// # Quota Limits
//
// The quota section is the only part of the configuration that can change
// without a restart. Watcher notices edits to the file and the run command
// hands the new limits to the quota engine; stored records are brought in
// line with them one at a time as they are next touched.
//
// A non-positive limit is not rejected here. The quota engine clamps it to 1
// and logs a warning, so a typo degrades service instead of refusing to start.
package config
