package core

import "go.uber.org/zap"

// NewLogger builds the structured logger every component threads
// through explicitly (no package-level global), matching main.go's
// construction-at-startup discipline. debug enables development mode
// (human-readable, caller-annotated); otherwise a production JSON
// encoder is used.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// fieldsForFragment returns the zap fields logged around fragment
// lifecycle events, kept in one place so log lines stay consistent
// across writer, consolidator, and vacuum call sites.
func fieldsForFragment(arrayURI, fragURI string) []zap.Field {
	return []zap.Field{zap.String("array", arrayURI), zap.String("fragment", fragURI)}
}
