// Package logging builds the go-logger root logger used by every component.
package logging

import (
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/cyderes/bitable-sync/internal/config"
)

// New constructs the root logger. Components receive named children via
// GetLogger so every entry carries its origin.
func New(cfg config.LogConfig) (*glog.BaseLogger, error) {
	options := []glog.Option{}

	if level := normalizeLevel(cfg.Level); level != "" {
		options = append(options, glog.WithLevel(level))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		options = append(options, glog.WithLoggerTypeConsole())
	case "json":
		options = append(options, glog.WithLoggerTypeJSON())
	case "pretty":
		options = append(options, glog.WithLoggerTypePretty())
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	return glog.NewLogger(options...), nil
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return glog.Trace
	case "debug":
		return glog.Debug
	case "info":
		return glog.Info
	case "warn", "warning":
		return glog.Warn
	case "error":
		return glog.Error
	default:
		return ""
	}
}
