package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Downstream chat API.
	viper.SetDefault("llm.endpoint", "https://api.openai.com")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("llm.request_timeout", 90*time.Second)

	// Bot identity.
	viper.SetDefault("bot.admin_id", "")
	viper.SetDefault("bot.self_id", int64(0))
	viper.SetDefault("bot.presets_file", "")
	viper.SetDefault("bot.media_keywords", map[string][]string{})

	// Bridge (OneBot HTTP API).
	viper.SetDefault("bridge.api_url", "http://127.0.0.1:3000")
	viper.SetDefault("bridge.access_token", "")

	// Admission.
	viper.SetDefault("ratelimit.idle_after", 30*time.Minute)
	viper.SetDefault("session.idle_timeout", 30*time.Minute)
	viper.SetDefault("sweep.interval", 10*time.Minute)

	// Image store.
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("images.similarity_threshold", 0.9)

	// Video recommendations.
	viper.SetDefault("videos.ids", []string{})
	viper.SetDefault("videos.cookie", "")

	// Webhook server.
	viper.SetDefault("server.bind", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.auth_token", "")
}
