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
	"log"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"
)

// Event is a user-interface action delivered to the display loop.
type Event int

const (
	// EventQuit terminates the pipeline.
	EventQuit Event = iota
	// EventToggleRecord toggles recording on live streams.
	EventToggleRecord
	// EventTogglePause toggles playback pause on files.
	EventTogglePause
	// EventSeekBack seeks 10 seconds backward on files.
	EventSeekBack
	// EventSeekForward seeks 10 seconds forward on files.
	EventSeekForward
)

// VideoRenderer presents a filtered frame on some display surface. The
// renderer sizes its surface from the first frame it receives, so filters
// may change dimensions and formats freely.
type VideoRenderer interface {
	Present(f *astiav.Frame) error
}

// EventSource supplies pending user-interface events without blocking.
type EventSource interface {
	Poll() []Event
}

// Display drives the video render loop: event polling, pause handling with
// one-shot refresh after seeks, A/V synchronization and progress reporting.
// In headless mode frames are delivered only to the render callback.
type Display struct {
	reader    *Reader
	frames    *FrameQueue
	renderer  VideoRenderer
	events    EventSource
	headless  bool
	lastFrame *astiav.Frame
	oneShot   atomic.Bool

	renderCallback   func(f *astiav.Frame, uri string)
	progressCallback func(pct float64, uri string)
	clearCallback    func()
}

func newDisplay(reader *Reader, frames *FrameQueue, renderer VideoRenderer, events EventSource, headless bool) *Display {
	return &Display{
		reader:   reader,
		frames:   frames,
		renderer: renderer,
		events:   events,
		headless: headless,
	}
}

// render performs one display step. Returns false once the pipeline is done.
func (d *Display) render() bool {
	if !d.headless && d.events != nil {
		d.poll()
	}

	if d.reader.terminated.Load() {
		d.frames.Clear()
		return false
	}

	if !d.reader.hasVideo() {
		time.Sleep(100 * time.Millisecond)
		return true
	}

	if d.reader.paused.Load() && !d.oneShot.Load() {
		if d.lastFrame != nil {
			d.showFrame(d.lastFrame)
		}
		time.Sleep(100 * time.Millisecond)
		return true
	}

	f := d.frames.Pop()
	if f == nil {
		return false
	}
	if d.reader.seekPts.Load() != NoPts {
		f.Free()
		return true
	}
	if !d.reader.liveStream {
		d.wait(f.Pts())
	}
	d.showFrame(f)
	if d.lastFrame != nil {
		d.lastFrame.Free()
	}
	d.lastFrame = f
	d.oneShot.Store(false)
	return true
}

func (d *Display) showFrame(f *astiav.Frame) {
	if d.renderCallback != nil {
		d.renderCallback(f, d.reader.uri)
	}
	if d.progressCallback != nil {
		d.progressCallback(d.progress(f.Pts()), d.reader.uri)
	}
	if d.headless || d.renderer == nil {
		return
	}
	if err := d.renderer.Present(f); err != nil {
		log.Printf("[%s] display error: %v", d.reader.uri, err)
	}
}

// wait aligns file playback to the wall clock: slave to the audio clock when
// audio is present, otherwise pace by the frame-to-frame pts delta. Sleeps
// are bounded to (0, 1000) ms.
func (d *Display) wait(pts int64) {
	var diff int64
	if d.reader.hasAudio() {
		rts := d.reader.realTime(d.reader.videoStreamIndex, pts)
		diff = rts - d.reader.lastAudioRts.Load()
	} else {
		var lastPts int64 = NoPts
		if d.lastFrame != nil {
			lastPts = d.lastFrame.Pts()
		}
		if lastPts == NoPts {
			return
		}
		diff = d.reader.realTime(d.reader.videoStreamIndex, pts) -
			d.reader.realTime(d.reader.videoStreamIndex, lastPts)
	}
	if diff > 0 && diff < 1000 {
		time.Sleep(time.Duration(diff) * time.Millisecond)
	}
}

func (d *Display) poll() {
	for _, ev := range d.events.Poll() {
		switch ev {
		case EventQuit:
			d.reader.terminate()
		case EventToggleRecord:
			if d.reader.liveStream {
				d.reader.recording.Store(!d.reader.recording.Load())
			}
		case EventTogglePause:
			if !d.reader.liveStream {
				d.reader.paused.Store(!d.reader.paused.Load())
			}
		case EventSeekBack:
			d.seekBy(-10)
		case EventSeekForward:
			d.seekBy(10)
		}
	}
}

// seekBy requests a seek offset in seconds from the last displayed frame.
func (d *Display) seekBy(seconds int64) {
	if d.reader.closed.Load() || d.reader.liveStream || d.lastFrame == nil {
		return
	}
	tb := q2d(d.reader.videoTimeBase())
	if tb == 0 {
		return
	}
	d.reader.seek(d.lastFrame.Pts() + int64(float64(seconds)/tb))
	if d.reader.paused.Load() {
		if d.clearCallback != nil {
			d.clearCallback()
		}
		d.oneShot.Store(true)
	}
}

func (d *Display) progress(pts int64) float64 {
	duration := d.reader.duration()
	if duration == 0 {
		return 0
	}
	return float64(d.reader.realTime(d.reader.videoStreamIndex, pts)) / float64(duration)
}

func (d *Display) free() {
	if d.lastFrame != nil {
		d.lastFrame.Free()
		d.lastFrame = nil
	}
}
