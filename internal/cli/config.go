package cli

import "github.com/lucasnoah/aelitaqueue/internal/config"

// sentinelEnv is the positional argument spec.md §6 reserves for "load
// configuration from AELITA_-prefixed environment variables instead of a
// file."
const sentinelEnv = "-12"

func loadConfig(arg string) (*config.Config, error) {
	if arg == sentinelEnv {
		return config.LoadEnv()
	}
	return config.Load(arg)
}
