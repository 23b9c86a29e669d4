// Package telemetry carries Kepler's ambient observability stack: structured
// logging (zap, as used throughout the oneconcern-datamon example) and
// request/operation metrics (prometheus client_golang, used across the
// Klickk-SecuMSG-Server services).
package telemetry

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. Production hosts want JSON output at
// info level; tests and local runs want a cheaper, readable console encoder.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

// Fields commonly attached to log lines across the request pipeline.
func OrbitField(orbitID string) zap.Field { return zap.String("orbit_id", orbitID) }
func CIDField(c string) zap.Field         { return zap.String("cid", c) }
func ActionField(a string) zap.Field      { return zap.String("action", a) }
