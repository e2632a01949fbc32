// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bridge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)
	assert.Nil(t, r.LastN(5))

	r.Add("line1")
	r.Add("line2")
	assert.Equal(t, []string{"line1", "line2"}, r.LastN(10))

	r.Add("line3")
	assert.Equal(t, []string{"line1", "line2", "line3"}, r.LastN(10))

	// Wrap
	r.Add("line4")
	assert.Equal(t, []string{"line2", "line3", "line4"}, r.LastN(10))
	assert.Equal(t, []string{"line3", "line4"}, r.LastN(2))
	assert.Equal(t, 3, r.Len())
}

func TestLineRing_Writer(t *testing.T) {
	r := NewLineRing(5)
	_, _ = fmt.Fprintf(r, "foo\r\n\nbar\n")
	assert.Equal(t, []string{"foo", "bar"}, r.LastN(10))
}

func TestLineRing_KeepsEmptyAdd(t *testing.T) {
	r := NewLineRing(2)
	r.Add("")
	r.Add("x")
	assert.Equal(t, []string{"", "x"}, r.LastN(2))
}

func TestNewLineRing_DefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	for i := 0; i < DefaultRingSize+10; i++ {
		r.Add(fmt.Sprint(i))
	}
	got := r.LastN(DefaultRingSize + 10)
	assert.Len(t, got, DefaultRingSize)
	assert.Equal(t, fmt.Sprint(DefaultRingSize+9), got[len(got)-1])
}
