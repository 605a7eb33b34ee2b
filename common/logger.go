// Package common provides helpers shared across the pipeline packages.
package common

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger returns l, or the global logger when l is nil, tagged with
// the component name.
func ComponentLogger(l *zerolog.Logger, component string) zerolog.Logger {
	base := log.Logger
	if l != nil {
		base = *l
	}
	return base.With().Str("component", component).Logger()
}
