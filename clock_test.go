/* SPDX-License-Identifier: GPL-3.0-or-later
 *
 * avio
 * Copyright (C) 2025 avio authors
 *
 * This file is part of avio.
 *
 * avio is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 */
package avio

import (
	"testing"

	astiav "github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestStreamClockRealTime(t *testing.T) {
	c := newStreamClock(astiav.NewRational(1, 1000)) // 1 tick == 1 ms

	// before any packet, pts projects from zero
	require.Equal(t, int64(5000), c.realTime(5000))

	c.observe(2000)
	require.Equal(t, int64(0), c.realTime(2000))
	require.Equal(t, int64(3000), c.realTime(5000))

	// the origin is set once
	c.observe(9000)
	require.Equal(t, int64(3000), c.realTime(5000))

	require.Equal(t, int64(-1), c.realTime(NoPts))
}

func TestStreamClockRoundTrip(t *testing.T) {
	for _, tb := range []astiav.Rational{
		astiav.NewRational(1, 90000),
		astiav.NewRational(1, 1000),
		astiav.NewRational(1, 48000),
	} {
		c := newStreamClock(tb)
		c.observe(12345)
		for _, pts := range []int64{12345, 90000, 900000} {
			rt := c.realTime(pts)
			back := c.ptsFromRealTime(rt)
			// modulo integer rounding of the millisecond projection
			tolerance := int64(float64(tb.Den()) / float64(tb.Num()) / 1000.0)
			require.InDelta(t, pts, back, float64(tolerance)+1,
				"time base %d/%d pts %d", tb.Num(), tb.Den(), pts)
		}
	}
}

func TestReaderRealTimeUnknownStream(t *testing.T) {
	r := &Reader{
		videoStreamIndex: -1,
		audioStreamIndex: -1,
		clocks:           map[int]*streamClock{},
	}
	require.Equal(t, int64(-1), r.realTime(3, 100))
	require.Equal(t, NoPts, r.ptsFromRealTime(3, 100))
}
