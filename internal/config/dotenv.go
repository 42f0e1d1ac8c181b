package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// LoadDotEnv loads a local .env file if present. Missing files are not an
// error — production deployments set environment variables directly.
func LoadDotEnv(path string) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logrus.WithError(err).WithField("path", path).Warn("failed to load .env file")
	}
}
