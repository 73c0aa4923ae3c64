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

type stubEvents struct {
	events []Event
}

func (s *stubEvents) Poll() []Event {
	evs := s.events
	s.events = nil
	return evs
}

func displayReader() *Reader {
	r := &Reader{
		videoStreamIndex: 0,
		audioStreamIndex: -1,
		clocks:           map[int]*streamClock{0: newStreamClock(astiav.NewRational(1, 1000))},
		liveStream:       true,
	}
	r.seekPts.Store(NoPts)
	return r
}

func TestDisplayStopsWhenTerminated(t *testing.T) {
	r := displayReader()
	r.terminated.Store(true)
	frames := NewFrameQueue(1)
	d := newDisplay(r, frames, nil, nil, true)
	require.False(t, d.render())
}

func TestDisplayStopsOnNilFrame(t *testing.T) {
	r := displayReader()
	frames := NewFrameQueue(1)
	frames.Push(nil)
	d := newDisplay(r, frames, nil, nil, true)
	require.False(t, d.render())
}

func TestDisplayRendersAndRemembersLastFrame(t *testing.T) {
	r := displayReader()
	frames := NewFrameQueue(1)

	f := astiav.AllocFrame()
	f.SetPts(42)
	frames.Push(f)

	var rendered []int64
	d := newDisplay(r, frames, nil, nil, true)
	d.renderCallback = func(f *astiav.Frame, uri string) {
		rendered = append(rendered, f.Pts())
	}
	defer d.free()

	require.True(t, d.render())
	require.Equal(t, []int64{42}, rendered)
	require.NotNil(t, d.lastFrame)
	require.Equal(t, int64(42), d.lastFrame.Pts())
}

func TestDisplayDiscardsFramesDuringSeek(t *testing.T) {
	r := displayReader()
	r.seekPts.Store(1234)
	frames := NewFrameQueue(1)

	f := astiav.AllocFrame()
	f.SetPts(42)
	frames.Push(f)

	var rendered int
	d := newDisplay(r, frames, nil, nil, true)
	d.renderCallback = func(*astiav.Frame, string) { rendered++ }
	defer d.free()

	require.True(t, d.render())
	require.Zero(t, rendered)
	require.True(t, frames.Empty())
}

func TestDisplayQuitEventTerminatesReader(t *testing.T) {
	r := displayReader()
	ev := &stubEvents{events: []Event{EventQuit}}
	frames := NewFrameQueue(1)
	d := newDisplay(r, frames, nil, ev, false)

	require.False(t, d.render())
	require.True(t, r.terminated.Load())
}

func TestDisplayRecordToggleLiveOnly(t *testing.T) {
	r := displayReader()
	r.terminated.Store(true) // stop after poll
	frames := NewFrameQueue(1)

	ev := &stubEvents{events: []Event{EventToggleRecord}}
	d := newDisplay(r, frames, nil, ev, false)
	d.render()
	require.True(t, r.recording.Load())

	r.liveStream = false
	ev.events = []Event{EventToggleRecord}
	d.render()
	require.True(t, r.recording.Load(), "file playback must not toggle recording")
}

func TestDisplayPauseToggleFilesOnly(t *testing.T) {
	r := displayReader()
	r.liveStream = false
	r.terminated.Store(true)
	frames := NewFrameQueue(1)

	ev := &stubEvents{events: []Event{EventTogglePause}}
	d := newDisplay(r, frames, nil, ev, false)
	d.render()
	require.True(t, r.paused.Load())

	r.liveStream = true
	ev.events = []Event{EventTogglePause}
	d.render()
	require.True(t, r.paused.Load(), "live streams must not pause")
}

func TestDisplaySeekEventArmsOneShotWhenPaused(t *testing.T) {
	r := displayReader()
	r.liveStream = false
	r.paused.Store(true)
	r.terminated.Store(true)
	frames := NewFrameQueue(1)

	cleared := 0
	d := newDisplay(r, frames, nil, &stubEvents{events: []Event{EventSeekForward}}, false)
	d.clearCallback = func() { cleared++ }

	last := astiav.AllocFrame()
	last.SetPts(5000)
	d.lastFrame = last
	defer d.free()

	d.render()
	require.Equal(t, int64(5000+10_000), r.seekPts.Load(), "10 s forward in a 1/1000 time base")
	require.Equal(t, 1, cleared)
	require.True(t, d.oneShot.Load())
}
