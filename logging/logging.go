package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
	FormatIndent = "indent"
)

// New builds the process logger. level is a zerolog level name ("debug",
// "info", ...); format is json (one object per line), pretty (coloured
// console) or indent (one indented JSON object per record).
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case "", FormatJSON:
	case FormatPretty:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case FormatIndent:
		w = NewPrettyJSONWriter(w)
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q: want json, pretty or indent", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Format picks the format name from the pretty flag used by the binaries.
func Format(pretty bool) string {
	if pretty {
		return FormatPretty
	}
	return FormatJSON
}
