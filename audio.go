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
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/hajimehoshi/oto/v2"
)

// A single process-wide audio context; the device mixes players internally.
var (
	audioCtxMu   sync.Mutex
	audioCtx     *oto.Context
	audioCtxRate int
	audioCtxCh   int
)

func audioContext(sampleRate, channels int) (*oto.Context, error) {
	audioCtxMu.Lock()
	defer audioCtxMu.Unlock()

	if audioCtx != nil {
		if audioCtxRate != sampleRate || audioCtxCh != channels {
			log.Printf("audio: keeping existing context %d Hz/%d ch (requested %d/%d)",
				audioCtxRate, audioCtxCh, sampleRate, channels)
		}
		return audioCtx, nil
	}

	ctx, ready, err := oto.NewContext(sampleRate, channels, oto.FormatSignedInt16LE)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ready
		log.Printf("audio: context ready")
	}()
	audioCtx = ctx
	audioCtxRate = sampleRate
	audioCtxCh = channels
	return audioCtx, nil
}

// AudioDrivers lists the audio backends the device layer can use on this
// platform.
func AudioDrivers() []string {
	return audioDriverNames()
}

// Audio feeds the sound device with packed S16 samples resampled from the
// filtered-audio queue. The device pulls through Read on its own goroutine;
// Read must never panic and fills silence when paused.
type Audio struct {
	reader *Reader
	frames *FrameQueue

	swr      *astiav.SoftwareResampleContext
	outFrame *astiav.Frame
	buffer   []byte
	residual int

	player oto.Player
	closed atomic.Bool

	volume atomic.Uint64
	mute   atomic.Bool

	audioCallback    func(f *astiav.Frame, uri string)
	progressCallback func(pct float64, uri string)
	lastProgress     int

	samples int
}

func newAudio(reader *Reader, frames *FrameQueue, audioDriverIndex int) (*Audio, error) {
	a := &Audio{reader: reader, frames: frames}
	a.setVolume(1.0)

	cp := reader.audioStream().CodecParameters()

	a.swr = astiav.AllocSoftwareResampleContext()
	if a.swr == nil {
		return nil, fmt.Errorf("avio: alloc software resample context failed")
	}
	a.outFrame = astiav.AllocFrame()

	a.samples = a.numberOfSamples(cp)

	ctx, err := audioContext(cp.SampleRate(), cp.ChannelLayout().Channels())
	if err != nil {
		a.free()
		return nil, fmt.Errorf("avio: audio device init: %w", err)
	}
	_ = audioDriverIndex // backend selection is the device layer's concern

	a.player = ctx.NewPlayer(a)
	a.player.Play()
	return a, nil
}

// numberOfSamples derives the device burst size from the codec frame size,
// or from the first queued frame when the codec does not advertise one.
func (a *Audio) numberOfSamples(cp *astiav.CodecParameters) int {
	samples := cp.FrameSize()
	if samples == 0 && cp.CodecID() != astiav.CodecIDVorbis && cp.CodecID() != astiav.CodecIDOpus {
		for count := 0; a.frames.Len() == 0 && count < 100; count++ {
			time.Sleep(10 * time.Millisecond)
		}
		if f, ok := a.frames.Peek(); ok && f != nil {
			samples = f.NbSamples()
		}
	}
	return samples
}

func (a *Audio) setVolume(v float64) {
	a.volume.Store(math.Float64bits(v))
}

func (a *Audio) getVolume() float64 {
	return math.Float64frombits(a.volume.Load())
}

// Read is the device pull callback. It fills out with resampled samples,
// carrying partially consumed frames over as a residual, and applies volume
// and mute before returning. io.EOF retires the player.
func (a *Audio) Read(out []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[%s] audio callback error: %v", a.reader.uri, r)
			n, err = len(out), nil
		}
	}()

	for i := range out {
		out[i] = 0
	}

	if a.reader.terminated.Load() {
		a.frames.Clear()
		a.closed.Store(true)
		return 0, io.EOF
	}
	if a.reader.paused.Load() {
		return len(out), nil
	}

	pos := 0
	for pos < len(out) && !a.closed.Load() {
		if a.residual == 0 {
			if a.reader.liveStream {
				if aq := a.reader.audioQueue(); aq != nil {
					aq.RemoveLatency()
				}
			}

			f := a.frames.Pop()
			if f == nil || a.reader.terminated.Load() {
				if f != nil {
					f.Free()
				}
				a.closed.Store(true)
				return 0, io.EOF
			}
			if a.reader.seekPts.Load() != NoPts {
				f.Free()
				break
			}

			rts := a.reader.realTime(a.reader.audioStreamIndex, f.Pts())
			a.reader.updateRt(a.reader.audioStreamIndex, rts)

			if err := a.resample(f); err != nil {
				log.Printf("[%s] audio resample error: %v", a.reader.uri, err)
				f.Free()
				break
			}

			n := len(a.buffer)
			if n > len(out)-pos {
				n = len(out) - pos
			}
			copy(out[pos:], a.buffer[:n])
			a.residual = len(a.buffer) - n
			pos += n

			if a.audioCallback != nil {
				a.audioCallback(f, a.reader.uri)
			}
			a.updateProgress(f.Pts())
			f.Free()
		} else {
			start := len(a.buffer) - a.residual
			n := a.residual
			if n > len(out)-pos {
				n = len(out) - pos
			}
			copy(out[pos:], a.buffer[start:start+n])
			a.residual -= n
			pos += n
		}
	}

	if a.mute.Load() {
		for i := range out {
			out[i] = 0
		}
	} else if v := a.getVolume(); v != 1.0 {
		scaleSamples(out, v)
	}
	return len(out), nil
}

// resample converts one frame to packed S16 into a.buffer.
func (a *Audio) resample(f *astiav.Frame) error {
	a.outFrame.SetChannelLayout(f.ChannelLayout())
	a.outFrame.SetSampleRate(f.SampleRate())
	a.outFrame.SetSampleFormat(astiav.SampleFormatS16)
	a.outFrame.SetNbSamples(f.NbSamples())
	if err := a.outFrame.AllocBuffer(0); err != nil {
		return fmt.Errorf("alloc buffer: %w", err)
	}
	defer a.outFrame.Unref()

	if err := a.swr.ConvertFrame(f, a.outFrame); err != nil {
		return fmt.Errorf("convert frame: %w", err)
	}

	data, err := a.outFrame.Data().Bytes(0)
	if err != nil {
		return fmt.Errorf("frame bytes: %w", err)
	}
	need := a.outFrame.NbSamples() * a.outFrame.ChannelLayout().Channels() * 2
	if need > len(data) {
		need = len(data)
	}
	if cap(a.buffer) < need {
		a.buffer = make([]byte, need)
	} else {
		a.buffer = a.buffer[:need]
	}
	copy(a.buffer, data[:need])
	return nil
}

// scaleSamples applies a volume factor to packed little-endian S16 samples.
func scaleSamples(buf []byte, volume float64) {
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		v := int32(float64(s) * volume)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(v)))
	}
}

// updateProgress reports playback progress deduplicated at 0.1% resolution.
func (a *Audio) updateProgress(pts int64) {
	if a.progressCallback == nil {
		return
	}
	duration := a.reader.duration()
	if duration == 0 {
		return
	}
	pct := float64(a.reader.realTime(a.reader.audioStreamIndex, pts)) / float64(duration)
	progress := int(1000 * pct)
	if progress != a.lastProgress {
		a.progressCallback(pct, a.reader.uri)
		a.lastProgress = progress
	}
}

func (a *Audio) isClosed() bool { return a.closed.Load() }

func (a *Audio) free() {
	if a.player != nil {
		_ = a.player.Close()
		a.player = nil
	}
	if a.swr != nil {
		a.swr.Free()
		a.swr = nil
	}
	if a.outFrame != nil {
		a.outFrame.Free()
		a.outFrame = nil
	}
}
