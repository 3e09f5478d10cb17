package config

import "os"

// lookupEnv is a seam for tests.
var lookupEnv = os.LookupEnv

func parseEnv(config *Config) {
	if v, ok := lookupEnv(MasterKeyEnv); ok {
		config.MasterKey = v
	}
}
