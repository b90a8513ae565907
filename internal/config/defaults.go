package config

// Defaults returns the built-in configuration layer. Each call returns a fresh
// map so callers may merge into it.
func Defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":             "0.0.0.0",
			"port":             3000,
			"read_timeout":     "30s",
			"write_timeout":    "60s",
			"idle_timeout":     "120s",
			"shutdown_timeout": "10s",
		},
		"store": map[string]any{
			"driver":         "libsql",
			"path":           "",
			"url":            "",
			"auth_token":     "",
			"retention_days": 30,
		},
		"redis": map[string]any{
			"url": "",
			"ttl": "24h",
		},
		"fetch": map[string]any{
			"user_agent": "KosmoStars-Space/1.0",
			"rate_limit": map[string]any{
				"capacity": 60,
				"window":   "1m",
			},
			"retry": map[string]any{
				"max_retries":  3,
				"backoff_base": "1s",
				"retry_delay":  "2s",
			},
			"max_body_bytes": 16 * 1024 * 1024,
			"run_on_start":   true,
		},
		"nasa": map[string]any{
			"api_key": "",
		},
		"api": map[string]any{
			"refresh_rps":   0.2,
			"refresh_burst": 3,
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "STRUCTURED",
		},
		"metrics": map[string]any{
			"enabled": true,
			"port":    9090,
		},
		"health": map[string]any{
			"enabled": true,
		},
		"sources": map[string]any{
			"iss":    sourceDefaults("120s", "20s"),
			"osdr":   sourceDefaults("600s", "30s"),
			"apod":   sourceDefaults("12h", "30s"),
			"neo":    sourceDefaults("2h", "30s"),
			"flr":    sourceDefaults("1h", "30s"),
			"cme":    sourceDefaults("1h", "30s"),
			"spacex": sourceDefaults("1h", "30s"),
		},
	}
}

func sourceDefaults(interval, timeout string) map[string]any {
	return map[string]any{
		"enabled":  true,
		"url":      "",
		"interval": interval,
		"timeout":  timeout,
	}
}
