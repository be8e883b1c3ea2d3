// Package config содержит логику чтения конфигурации биллинг-сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации биллинг-сервиса.
type Config struct {
	RunAddress          string `env:"RUN_ADDRESS"`
	DatabaseURI         string `env:"DATABASE_URI"`
	StripeAPIAddress    string `env:"STRIPE_API_ADDRESS"`
	StripeAPIKey        string `env:"STRIPE_API_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	AuthSecret          string `env:"AUTH_SECRET"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envStripeAddress := cfg.StripeAPIAddress
	envSuccessURL := cfg.CheckoutSuccessURL
	envCancelURL := cfg.CheckoutCancelURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.StripeAPIAddress, "s", "https://api.stripe.com", "Stripe API address")
	flag.StringVar(&cfg.CheckoutSuccessURL, "success-url", "", "checkout success redirect URL")
	flag.StringVar(&cfg.CheckoutCancelURL, "cancel-url", "", "checkout cancel redirect URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envStripeAddress != "" {
		cfg.StripeAPIAddress = envStripeAddress
	}
	if envSuccessURL != "" {
		cfg.CheckoutSuccessURL = envSuccessURL
	}
	if envCancelURL != "" {
		cfg.CheckoutCancelURL = envCancelURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.StripeAPIAddress == "" {
		cfg.StripeAPIAddress = "https://api.stripe.com"
	}

	return cfg, nil
}
