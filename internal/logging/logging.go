// Package logging constructs the process-wide zap logger. The server
// threads one *zap.Logger through every component as a field (never a
// package-level global), mirroring the teacher's practice of passing
// shared state by value/pointer rather than relying on globals.
package logging

import "go.uber.org/zap"

// New builds a production (JSON) logger, or a human-readable console
// development logger when debug is set.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
