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

// Package avio is a multimedia playback and recording pipeline on top of the
// FFmpeg family, bound through go-astiav. A Player demultiplexes a media URI
// into elementary streams, decodes and filters them, renders video through a
// pluggable renderer and audio through the system sound device, and can
// persist the original compressed streams to a container file on command,
// back-dated by a rolling pre-roll cache.
//
// The pipeline is a directed graph of stages, each owning one goroutine,
// connected by bounded queues. Cancellation has a single entry point,
// Reader.terminate, which propagates nil sentinels through every queue.
package avio

import (
	"log"
	"runtime"
	"runtime/debug"
	"strings"

	astiav "github.com/asticode/go-astiav"
)

// NoPts marks an absent timestamp, mirroring the codec library's sentinel.
const NoPts = astiav.NoPtsValue

func q2d(r astiav.Rational) float64 {
	if r.Den() == 0 {
		return 0
	}
	return float64(r.Num()) / float64(r.Den())
}

// refPacket returns a new packet referencing src's buffer.
func refPacket(src *astiav.Packet) (*astiav.Packet, error) {
	p := astiav.AllocPacket()
	if err := p.Ref(src); err != nil {
		p.Free()
		return nil, err
	}
	return p, nil
}

// refFrame returns a new frame referencing src's buffers.
func refFrame(src *astiav.Frame) (*astiav.Frame, error) {
	f := astiav.AllocFrame()
	if err := f.Ref(src); err != nil {
		f.Free()
		return nil, err
	}
	return f, nil
}

// streamClock projects a stream's pts onto wall-clock milliseconds. The
// origin is the first pts observed on the stream, standing in for the
// container's per-stream start time.
type streamClock struct {
	timeBase astiav.Rational
	start    int64
	started  bool
}

func newStreamClock(timeBase astiav.Rational) *streamClock {
	return &streamClock{timeBase: timeBase, start: NoPts}
}

func (c *streamClock) observe(pts int64) {
	if !c.started && pts != NoPts {
		c.start = pts
		c.started = true
	}
}

// realTime returns pts projected to milliseconds since stream start, or -1
// when pts is absent.
func (c *streamClock) realTime(pts int64) int64 {
	if pts == NoPts {
		return -1
	}
	start := c.start
	if !c.started {
		start = 0
	}
	return int64(1000 * q2d(c.timeBase) * float64(pts-start))
}

// ptsFromRealTime is the inverse projection, milliseconds to pts.
func (c *streamClock) ptsFromRealTime(rt int64) int64 {
	factor := 1000 * q2d(c.timeBase)
	if factor == 0 {
		return NoPts
	}
	start := c.start
	if !c.started {
		start = 0
	}
	return int64(float64(rt)/factor) + start
}

// SetLogLevel adjusts the verbosity of the underlying codec library.
func SetLogLevel(l astiav.LogLevel) {
	astiav.SetLogLevel(l)
}

// BridgeFFmpegLogs forwards codec library log lines to the standard logger.
func BridgeFFmpegLogs() {
	astiav.SetLogCallback(func(c astiav.Classer, l astiav.LogLevel, fmt, msg string) {
		var cs string
		if c != nil {
			if cl := c.Class(); cl != nil {
				cs = " - class: " + cl.String()
			}
		}
		log.Printf("ffmpeg log: %s%s - level: %d", strings.TrimSpace(msg), cs, l)
	})
}

// FFmpegVersions reports the binding and module versions in use.
func FFmpegVersions() string {
	var parts []string
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if strings.Contains(dep.Path, "go-astiav") || strings.Contains(dep.Path, "go-astikit") {
				parts = append(parts, dep.Path+" "+dep.Version)
			}
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}

// hardwareDeviceTypeNames covers the device types the codec library can
// expose; probing filters it down to the ones compiled in.
var hardwareDeviceTypeNames = []string{
	"cuda",
	"d3d11va",
	"drm",
	"dxva2",
	"mediacodec",
	"opencl",
	"qsv",
	"vaapi",
	"vdpau",
	"videotoolbox",
	"vulkan",
}

// audioDriverNames reports the device backends the audio layer selects from
// on the current platform.
func audioDriverNames() []string {
	switch runtime.GOOS {
	case "linux":
		return []string{"alsa"}
	case "darwin":
		return []string{"coreaudio"}
	case "windows":
		return []string{"wasapi", "directsound", "winmm"}
	default:
		return []string{"default"}
	}
}

// HardwareDecoders lists the hardware device types available in the linked
// codec library.
func HardwareDecoders() []string {
	var result []string
	for _, name := range hardwareDeviceTypeNames {
		if astiav.FindHardwareDeviceTypeByName(name) != astiav.HardwareDeviceTypeNone {
			result = append(result, name)
		}
	}
	return result
}
