package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownPresets(t *testing.T) {
	cases := []struct {
		preset  Preset
		jpeg    bool
		compLvl int
	}{
		{Screenshot, false, 0},
		{RemoteControl, false, 0},
		{Thumbnail, true, 9},
		{Default, false, 0},
	}

	for _, c := range cases {
		p := Lookup(c.preset)
		assert.Equal(t, c.jpeg, p.JPEGEnabled)
		assert.Equal(t, c.compLvl, p.CompressLevel)
		assert.NotEmpty(t, p.Encodings)
	}
}

func TestLookupUnknownFallsBackToDefault(t *testing.T) {
	p := Lookup(Preset(999))
	assert.Equal(t, Lookup(Default), p)
}

func TestEncodingsString(t *testing.T) {
	p := Lookup(RemoteControl)
	assert.Equal(t, "copyrect hextile raw", p.EncodingsString())
}

func TestStandardPixelFormat(t *testing.T) {
	assert.Equal(t, 32, Standard.BitsPerPixel)
	assert.Equal(t, 16, Standard.RedShift)
	assert.Equal(t, 8, Standard.GreenShift)
	assert.Equal(t, 0, Standard.BlueShift)
	assert.False(t, Standard.BigEndian)
}
