// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/ffav/internal/log"
)

// LogLevel is FFmpeg's numeric log severity.
type LogLevel int

const (
	LogQuiet   LogLevel = -8
	LogPanic   LogLevel = 0
	LogFatal   LogLevel = 8
	LogError   LogLevel = 16
	LogWarning LogLevel = 24
	LogInfo    LogLevel = 32
	LogVerbose LogLevel = 40
	LogDebug   LogLevel = 48
	LogTrace   LogLevel = 56
)

var levelNames = map[LogLevel]string{
	LogQuiet:   "quiet",
	LogPanic:   "panic",
	LogFatal:   "fatal",
	LogError:   "error",
	LogWarning: "warning",
	LogInfo:    "info",
	LogVerbose: "verbose",
	LogDebug:   "debug",
	LogTrace:   "trace",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// LogLevelByName resolves an FFmpeg level name such as "warning".
func LogLevelByName(name string) (LogLevel, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		return LogWarning, true
	}
	for l, n := range levelNames {
		if n == name {
			return l, true
		}
	}
	return 0, false
}

// Zerolog maps the severity onto a zerolog level. Panic and fatal map to
// error since zerolog's own levels would abort the process.
func (l LogLevel) Zerolog() zerolog.Level {
	switch {
	case l <= LogQuiet:
		return zerolog.Disabled
	case l <= LogError:
		return zerolog.ErrorLevel
	case l <= LogWarning:
		return zerolog.WarnLevel
	case l <= LogInfo:
		return zerolog.InfoLevel
	case l <= LogDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// ZerologPrintHandler returns a print handler that routes FFmpeg diagnostics
// into logger at the mapped level.
func ZerologPrintHandler(logger zerolog.Logger) func(level int, message string) {
	return func(level int, message string) {
		l := LogLevel(level)
		logger.WithLevel(l.Zerolog()).
			Str(log.FieldLevel, l.String()).
			Msg(message)
	}
}

