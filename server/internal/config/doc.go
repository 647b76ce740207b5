// Package config loads the livefeed-server configuration from a YAML file
// and the process environment.
//
// Sections and defaults:
//   - server: http_port (8888), env (DEV), static_dir (static), shutdown_grace (5s)
//   - log: level, format; DEV defaults to debug/text, otherwise info/json
//   - refresher: interval (10s), fetch_timeout (10s)
//   - source: endpoint, city (Singapore), units, api_key_env (OPENWEATHER_API_KEY),
//     max_retries (2), backoff_initial (500ms), backoff_max (5s)
//   - stream: poll_interval (1s), write_timeout (10s), max_sessions (0 = unlimited),
//     accept_rate (0 = unlimited), accept_burst (10)
//   - mirror: enabled (false), redis_addr (localhost:6379), key, ttl (1h)
//
// PORT, ENV and LOG_LEVEL override the file. Load(path) applies defaults
// before unmarshalling, then the environment, then validates. An empty path
// skips the file.
//
// Watch reloads the file on change; only the intervals and the log level are
// applied to a running server.
package config
