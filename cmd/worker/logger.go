package main

import (
	"github.com/regionpulse/stress-anomaly-worker/internal/config"
	"github.com/regionpulse/stress-anomaly-worker/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
