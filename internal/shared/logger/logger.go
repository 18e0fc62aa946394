package logger

import (
	"go.uber.org/zap"
)

// New returns a sugared zap logger configured for the given environment.
func New(env string) *zap.SugaredLogger {
	var z *zap.Logger
	if env == "production" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar()
}
