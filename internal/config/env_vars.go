package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: FINSTATS_CHAT_IDLE_WINDOW sets chat.idle_window.
const EnvPrefix = "FINSTATS"

// ConfigPathEnvVar names an explicit config file.
const ConfigPathEnvVar = "FINSTATS_CONFIG"

// Unprefixed names honoured for deployment convenience.
var legacyEnvVars = map[string]string{
	"devbackend.port": "PORT",
	"app.env":         "ENV",
	"api.url":         "API_URL",
	"redis.address":   "REDIS_ADDRESS",
	"redis.password":  "REDIS_PASSWORD",
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnvVars {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), name)
	}
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
