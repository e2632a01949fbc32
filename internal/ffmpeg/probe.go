// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/ffav/internal/abort"
	"github.com/ManuGH/ffav/internal/log"
)

// ErrNoPlayableStream is returned by Probe when ffprobe found no audio or video stream.
var ErrNoPlayableStream = errors.New("no playable stream")

// StreamInfo describes one stream reported by ffprobe.
type StreamInfo struct {
	Index      int     `json:"index"`
	CodecType  string  `json:"codec_type"`
	CodecName  string  `json:"codec_name"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}

// ProbeResult is the decoded ffprobe report of one media source.
type ProbeResult struct {
	Container string         `json:"container"`
	Duration  time.Duration  `json:"duration"`
	BitRate   int64          `json:"bit_rate,omitempty"`
	Streams   []StreamInfo   `json:"streams"`
	Raw       string         `json:"-"`
	Tags      map[string]any `json:"tags,omitempty"`
}

// HasAudio reports whether any audio stream with a codec was found.
func (r *ProbeResult) HasAudio() bool {
	for _, s := range r.Streams {
		if s.CodecType == "audio" && s.CodecName != "" {
			return true
		}
	}
	return false
}

// ProbeArgs returns the ffprobe command line Probe runs for url.
func ProbeArgs(url string) []string {
	return []string{
		"ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		url,
	}
}

// Probe runs ffprobe on url and decodes its JSON report.
func (e *Executor) Probe(ctx context.Context, url string, sig *abort.Signal) (*ProbeResult, error) {
	var payload string
	err := e.Execute(ctx, ProbeArgs(url), Options{
		Signal:         sig,
		OutputCallback: func(msg string) { payload = msg },
	})
	if err != nil {
		return nil, err
	}
	res, err := parseProbe(payload)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "ffmpeg")
		logger.Debug().Err(err).Str(log.FieldURL, url).Msg("ffprobe report rejected")
		return nil, err
	}
	return res, nil
}

type probeData struct {
	Streams []struct {
		Index      int    `json:"index"`
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate,omitempty"`
		Channels   int    `json:"channels,omitempty"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
		Duration   string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration   string         `json:"duration"`
		FormatName string         `json:"format_name"`
		BitRate    string         `json:"bit_rate"`
		Tags       map[string]any `json:"tags"`
	} `json:"format"`
}

func parseProbe(payload string) (*ProbeResult, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("ffprobe returned no output: %w", ErrNoPlayableStream)
	}
	var data probeData
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	res := &ProbeResult{Raw: payload, Tags: data.Format.Tags}
	playable := false
	for _, s := range data.Streams {
		info := StreamInfo{
			Index:     s.Index,
			CodecType: s.CodecType,
			CodecName: s.CodecName,
			Channels:  s.Channels,
			Width:     s.Width,
			Height:    s.Height,
		}
		if v, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = v
		}
		if v, err := strconv.ParseFloat(s.Duration, 64); err == nil {
			info.Duration = v
		}
		if (s.CodecType == "audio" || s.CodecType == "video") && s.CodecName != "" {
			playable = true
		}
		res.Streams = append(res.Streams, info)
	}
	if !playable {
		return nil, ErrNoPlayableStream
	}

	if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil && d > 0 {
		res.Duration = time.Duration(d * float64(time.Second))
	} else {
		for _, s := range res.Streams {
			if d := time.Duration(s.Duration * float64(time.Second)); d > res.Duration {
				res.Duration = d
			}
		}
	}
	if v, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		res.BitRate = v
	}

	// Comma lists such as "mov,mp4,m4a,3gp,3g2,mj2" collapse to the first entry.
	for _, p := range strings.Split(data.Format.FormatName, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res.Container = p
			break
		}
	}
	return res, nil
}
