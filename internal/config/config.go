package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
)

type Config struct {
	DBSource       string
	Port           string
	Env            string
	JWTSecret      string
	InitialDeposit decimal.Decimal

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

func Load() (*Config, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	depositRaw := os.Getenv("INITIAL_DEPOSIT")
	if depositRaw == "" {
		depositRaw = "10000.00"
	}
	deposit, err := decimal.NewFromString(depositRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_DEPOSIT: %w", err)
	}

	smtpPort := 587
	if raw := os.Getenv("SMTP_PORT"); raw != "" {
		smtpPort, err = strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
	}

	return &Config{
		// Empty DB_SOURCE selects the in-memory store.
		DBSource:       os.Getenv("DB_SOURCE"),
		Port:           port,
		Env:            env,
		JWTSecret:      secret,
		InitialDeposit: deposit,
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       smtpPort,
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
	}, nil
}
