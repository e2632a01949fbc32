// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"bytes"
	"strings"
)

// FFmpeg severities as printed with the "level" log flag.
const (
	levelQuiet   = -8
	levelPanic   = 0
	levelFatal   = 8
	levelError   = 16
	levelWarning = 24
	levelInfo    = 32
	levelVerbose = 40
	levelDebug   = 48
	levelTrace   = 56
)

var levelTags = map[string]int{
	"quiet":   levelQuiet,
	"panic":   levelPanic,
	"fatal":   levelFatal,
	"error":   levelError,
	"warning": levelWarning,
	"info":    levelInfo,
	"verbose": levelVerbose,
	"debug":   levelDebug,
	"trace":   levelTrace,
}

// splitLevel strips the "[level] " tag from a stderr line and returns the
// numeric severity. Context prefixes such as "[mp3 @ 0x55d0] " are kept.
// Untagged lines are info.
func splitLevel(line string) (int, string) {
	rest := line
	var prefix strings.Builder
	for strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "] ")
		if end < 0 || !strings.Contains(rest[:end], " @ ") {
			break
		}
		prefix.WriteString(rest[:end+2])
		rest = rest[end+2:]
	}

	if strings.HasPrefix(rest, "[") {
		if end := strings.IndexByte(rest, ']'); end > 0 {
			if lvl, ok := levelTags[rest[1:end]]; ok {
				return lvl, prefix.String() + strings.TrimPrefix(rest[end+1:], " ")
			}
		}
	}
	return levelInfo, line
}

// rewriteLogLevel returns a copy of args where absolute -loglevel/-v values
// keep the "level" flag, so every stderr line stays tagged.
func rewriteLogLevel(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		out = append(out, args[i])
		if (args[i] == "-loglevel" || args[i] == "-v") && i+1 < len(args) {
			i++
			out = append(out, levelFlagged(args[i]))
		}
	}
	return out
}

func levelFlagged(v string) string {
	if v == "" || v[0] == '+' || v[0] == '-' || strings.Contains(v, "level") {
		return v
	}
	return "level+" + v
}

// scanLogLines is a bufio.SplitFunc splitting on both '\n' and '\r', since
// ffmpeg redraws its status line with carriage returns.
func scanLogLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
