package utils

import "go.uber.org/zap"

// NewLogger builds the process logger. Debug mode uses the development config
// (console encoder, debug level) for local runs; otherwise production JSON at
// info level.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
