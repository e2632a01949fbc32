// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_NoErrors(t *testing.T) {
	v := New()
	v.Range("n", 5, 1, 10)
	v.FloatRange("f", 0.5, 0, 1)
	v.NotEmpty("s", "x")
	v.OneOf("mode", "grpc", []string{"grpc", "http"})
	v.Positive("p", 1)
	v.NonNegative("z", 0)
	v.PositiveDuration("d", time.Second)
	v.URL("u", "https://example.com/a.mp3", []string{"http", "https"})
	v.ListenAddr("addr", ":8080")

	assert.True(t, v.IsValid())
	assert.NoError(t, v.Err())
}

func TestValidator_CollectsEveryFailure(t *testing.T) {
	v := New()
	v.Range("n", 11, 1, 10)
	v.FloatRange("f", 1.5, 0, 1)
	v.NotEmpty("s", "  ")
	v.OneOf("mode", "udp", []string{"grpc", "http"})
	v.Positive("p", 0)
	v.NonNegative("z", -1)
	v.PositiveDuration("d", 0)

	require.False(t, v.IsValid())
	assert.Len(t, v.Errors(), 7)

	err := v.Err()
	require.Error(t, err)
	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors(), 7)
	assert.Contains(t, err.Error(), "validation failed for n")
	assert.Contains(t, err.Error(), "; ")
}

func TestValidator_ErrIsSnapshot(t *testing.T) {
	v := New()
	v.Positive("a", 0)
	err := v.Err()
	v.Positive("b", 0)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors(), 1)
	assert.Equal(t, "validation failed for a: value must be positive, got 0", err.Error())
}

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"valid", "http://host:8080/x", true},
		{"empty", "", false},
		{"no host", "http:///path", false},
		{"bad scheme", "ftp://host/x", false},
		{"unparsable", "http://[::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("u", tt.value, []string{"http", "https"})
			assert.Equal(t, tt.ok, v.IsValid(), v.Errors())
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	for _, ok := range []string{":8080", "127.0.0.1:9000", "[::1]:80"} {
		v := New()
		v.ListenAddr("addr", ok)
		assert.True(t, v.IsValid(), ok)
	}
	for _, bad := range []string{"8080", "", "host:"} {
		v := New()
		v.ListenAddr("addr", bad)
		assert.False(t, v.IsValid(), bad)
	}
}

func TestValidator_Custom(t *testing.T) {
	v := New()
	v.Custom("x", 3, func(any) error { return errors.New("odd") })
	require.Len(t, v.Errors(), 1)
	assert.Equal(t, "odd", v.Errors()[0].Message)
	assert.Equal(t, 3, v.Errors()[0].Value)
}
