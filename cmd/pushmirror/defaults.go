package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/agentworkforce/pushmirror/internal/credstore"
	"github.com/agentworkforce/pushmirror/internal/e2ee"
	"github.com/agentworkforce/pushmirror/internal/pushapi"
	"github.com/agentworkforce/pushmirror/internal/stream"
)

func initViperDefaults() {
	viper.SetDefault("api.base_url", pushapi.DefaultBaseURL)
	viper.SetDefault("http.timeout", 15*time.Second)

	viper.SetDefault("stream.url", stream.DefaultURL)
	viper.SetDefault("stream.retry_delay", stream.DefaultRetryDelay)

	viper.SetDefault("credentials.dsn", defaultCredentialsDSN())
	viper.SetDefault("credentials.service", credstore.DefaultService)

	viper.SetDefault("e2ee.key_cache_ttl", e2ee.DefaultKeyCacheTTL)

	viper.SetDefault("control.addr", "")
	viper.SetDefault("control.token", "")

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
}

func defaultCredentialsDSN() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return "file://" + filepath.Join(dir, "pushmirror", "credentials.json")
}
