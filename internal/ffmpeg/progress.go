// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strconv"
	"strings"
	"time"
)

// Progress is one decoded -progress report.
type Progress struct {
	Frame      int64
	FPS        float64
	Bitrate    string
	TotalSize  int64
	OutTime    time.Duration
	DupFrames  int64
	DropFrames int64
	// Speed is the processing speed relative to realtime; 0 when unknown.
	Speed float64
	// Done is set on the final report (progress=end).
	Done bool
}

// ParseProgress decodes a progress message delivered to ProgressCallback.
// Unknown keys and unparsable values are ignored.
func ParseProgress(message string) Progress {
	var p Progress
	var outUs, outMs int64 = -1, -1
	var outClock time.Duration = -1

	for _, line := range strings.Split(message, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch key {
		case "frame":
			p.Frame = parseInt(val)
		case "fps":
			p.FPS = parseFloat(val)
		case "bitrate":
			if val != "N/A" {
				p.Bitrate = val
			}
		case "total_size":
			p.TotalSize = parseInt(val)
		case "out_time_us":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				outUs = v
			}
		case "out_time_ms":
			// Despite the name ffmpeg reports microseconds here too.
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				outMs = v
			}
		case "out_time":
			if d, ok := parseClock(val); ok {
				outClock = d
			}
		case "dup_frames":
			p.DupFrames = parseInt(val)
		case "drop_frames":
			p.DropFrames = parseInt(val)
		case "speed":
			p.Speed = parseFloat(strings.TrimSuffix(val, "x"))
		case "progress":
			p.Done = val == "end"
		}
	}

	switch {
	case outUs >= 0:
		p.OutTime = time.Duration(outUs) * time.Microsecond
	case outMs >= 0:
		p.OutTime = time.Duration(outMs) * time.Microsecond
	case outClock >= 0:
		p.OutTime = outClock
	}
	return p
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseClock parses HH:MM:SS.ffffff. Negative values (ffmpeg's N/A
// placeholder before the first packet) are rejected.
func parseClock(s string) (time.Duration, bool) {
	if strings.HasPrefix(s, "-") {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), true
}
