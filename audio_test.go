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
	"encoding/binary"
	"io"
	"testing"

	astiav "github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func s16le(samples ...int16) []byte {
	buf := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func TestScaleSamples(t *testing.T) {
	buf := s16le(1000, -1000, 30000, -30000)
	scaleSamples(buf, 0.5)
	require.Equal(t, s16le(500, -500, 15000, -15000), buf)
}

func TestScaleSamplesClamps(t *testing.T) {
	buf := s16le(30000, -30000)
	scaleSamples(buf, 2.0)
	require.Equal(t, s16le(32767, -32768), buf)
}

func audioReader() *Reader {
	r := &Reader{
		videoStreamIndex: -1,
		audioStreamIndex: 1,
		clocks:           map[int]*streamClock{1: newStreamClock(astiav.NewRational(1, 1000))},
	}
	r.seekPts.Store(NoPts)
	return r
}

func TestAudioReadSilenceWhilePaused(t *testing.T) {
	r := audioReader()
	r.paused.Store(true)
	a := &Audio{reader: r, frames: NewFrameQueue(1)}

	out := []byte{1, 2, 3, 4}
	n, err := a.Read(out)
	require.NoError(t, err)
	require.Equal(t, len(out), n)
	require.Equal(t, []byte{0, 0, 0, 0}, out)
	require.False(t, a.isClosed())
}

func TestAudioReadClosesOnTermination(t *testing.T) {
	r := audioReader()
	r.terminated.Store(true)
	frames := NewFrameQueue(-1)
	f := astiav.AllocFrame()
	frames.Push(f)

	a := &Audio{reader: r, frames: frames}
	_, err := a.Read(make([]byte, 16))
	require.ErrorIs(t, err, io.EOF)
	require.True(t, a.isClosed())
	require.True(t, frames.Empty(), "termination clears the frame queue")
}

func TestAudioReadClosesOnNilFrame(t *testing.T) {
	r := audioReader()
	frames := NewFrameQueue(-1)
	frames.Push(nil)

	a := &Audio{reader: r, frames: frames}
	_, err := a.Read(make([]byte, 16))
	require.ErrorIs(t, err, io.EOF)
	require.True(t, a.isClosed())
}

func TestAudioResidualCopy(t *testing.T) {
	r := audioReader()
	a := &Audio{reader: r, frames: NewFrameQueue(1)}
	a.setVolume(1.0)
	a.buffer = s16le(1, 2, 3, 4)
	a.residual = 4 // last two samples unconsumed

	out := make([]byte, 4)
	n, err := a.Read(out)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, s16le(3, 4), out)
	require.Zero(t, a.residual)
}

func TestAudioProgressSilentWithoutDuration(t *testing.T) {
	r := audioReader()
	r.clocks[1].observe(0)

	var calls int
	a := &Audio{reader: r, frames: NewFrameQueue(1)}
	a.progressCallback = func(pct float64, uri string) { calls++ }

	// duration is unknown without an open container, so progress stays silent
	a.updateProgress(1000)
	require.Zero(t, calls)
}
