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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsCameraStream(t *testing.T) {
	tests := []struct {
		uri  string
		want bool
	}{
		{"rtsp://cam/1", true},
		{"RTSP://cam/1", true},
		{"http://host/stream", true},
		{"https://host/stream", true},
		{"HTTP://host/stream", true},
		{"HTTPS://host/stream", true},
		{"Rtsp://cam/1", false}, // mixed case is not recognized
		{"/home/user/clip.mp4", false},
		{"clip.mp4", false},
		{"file:///clip.mp4", false},
	}
	for _, tt := range tests {
		p := NewPlayer(tt.uri)
		assert.Equal(t, tt.want, p.IsCameraStream(), tt.uri)
	}
}

func TestNewPlayerDefaults(t *testing.T) {
	p := NewPlayer("clip.mp4")
	require.True(t, p.LiveStream)
	require.True(t, p.Headless)
	require.True(t, p.RequestReconnect)
	require.Equal(t, 1, p.BufferSizeInSeconds)
	require.Equal(t, 100, p.Volume)
	require.InDelta(t, -1.0, p.FileStartFromSeek, 1e-9)
}

func TestPlayerAccessorsWithoutPipeline(t *testing.T) {
	p := NewPlayer("clip.mp4")
	require.Equal(t, -1, p.Width())
	require.Equal(t, -1, p.Height())
	require.Equal(t, int64(0), p.Duration())
	require.False(t, p.HasVideo())
	require.False(t, p.HasAudio())
	require.False(t, p.IsPaused())
	require.False(t, p.IsRecording())
	require.False(t, p.IsMuted())
	require.Equal(t, 0, p.GetVolume())
	require.Equal(t, "no stream info available", p.GetStreamInfo())
	require.Equal(t, "unknown", p.GetAudioCodec())
	require.Equal(t, "unknown", p.GetVideoCodec())
	require.Zero(t, p.FrameRate())
	require.Equal(t, -1, p.Channels())
	require.Equal(t, -1, p.SampleRate())
	require.False(t, p.Crashed())

	// all of these must be safe no-ops before Play
	p.TogglePaused()
	p.ToggleRecording("out")
	p.ClearBuffer()
	p.Terminate()
	p.Seek(0.5)
	p.SetVolume(50)
	p.SetMute(true)
	p.SetMetaData("title", "test")
}

func TestPlayerEqualByURI(t *testing.T) {
	a := NewPlayer("rtsp://cam/1")
	b := NewPlayer("rtsp://cam/1")
	c := NewPlayer("rtsp://cam/2")
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(nil))
	require.False(t, NewPlayer("").Equal(NewPlayer("")))
	require.Equal(t, "rtsp://cam/1", a.String())
}

func TestFlushPacket(t *testing.T) {
	p := flushPacket()
	require.NotNil(t, p)
	defer p.Free()
	require.Equal(t, NoPts, p.Pts())
	require.Equal(t, []byte("FLUSH"), p.Data())
}

func TestHardwareDecodersDoesNotPanic(t *testing.T) {
	// contents depend on the linked codec library build
	_ = HardwareDecoders()
}

func TestAudioDriversNonEmpty(t *testing.T) {
	require.NotEmpty(t, AudioDrivers())
}
