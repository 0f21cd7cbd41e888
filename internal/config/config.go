package config

import (
	"encoding/json"
	"os"

	"hedgie-bot-go/internal/models"
)

// LoadConfig reads the JSON config file at path into a Config and fills
// in defaults for anything left unset.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := &models.Config{}
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	return config, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.DBPath == "" {
		cfg.DBPath = "hedgie.db"
	}
	if cfg.TradesDBPath == "" {
		cfg.TradesDBPath = "trades.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PriceSource == "" {
		cfg.PriceSource = "gemini"
	}
	if cfg.GeminiAPIURL == "" {
		cfg.GeminiAPIURL = "https://api.gemini.com"
	}
	if cfg.BinanceSymbol == "" {
		cfg.BinanceSymbol = "BTCUSDT"
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 60
	}
	if cfg.ScanIntervalSec <= 0 {
		cfg.ScanIntervalSec = 60
	}
	if cfg.AverageIntervalSec <= 0 {
		cfg.AverageIntervalSec = 12 * 60 * 60
	}
	if cfg.DigestIntervalMin <= 0 {
		cfg.DigestIntervalMin = 24 * 60
	}
	if cfg.SlackChannel == "" {
		cfg.SlackChannel = "hedgie"
	}
}
