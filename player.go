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
	"strings"
	"sync"
	"time"

	astiav "github.com/asticode/go-astiav"
	"golang.org/x/sync/errgroup"
)

// pipelineQueues holds every queue of one playback run. Queues live for the
// duration of Play and are shared with the stages by pointer.
type pipelineQueues struct {
	videoPkts     *PacketQueue
	audioPkts     *PacketQueue
	writerPkts    *PacketQueue
	decodedVideo  *FrameQueue
	decodedAudio  *FrameQueue
	filteredVideo *FrameQueue
	filteredAudio *FrameQueue
}

// Player supervises construction, startup, shutdown and error propagation of
// all pipeline stages, and mediates seeks. Callback fields left nil are
// no-ops. Configuration fields must be set before Play or Start.
type Player struct {
	URI string

	LiveStream          bool
	Headless            bool
	Hidden              bool
	DisableVideo        bool
	DisableAudio        bool
	HWDeviceType        string
	VideoFilter         string
	AudioFilter         string
	AudioDriverIndex    int
	BufferSizeInSeconds int
	FileStartFromSeek   float64
	RequestReconnect    bool
	Volume              int
	Mute                bool

	// Renderer and Events plug the windowing toolkit in; both may be nil,
	// in which case frames are only delivered to RenderCallback.
	Renderer VideoRenderer
	Events   EventSource

	ProgressCallback    func(pct float64, uri string)
	RenderCallback      func(f *astiav.Frame, uri string)
	AudioCallback       func(f *astiav.Frame, uri string)
	InfoCallback        func(msg, uri string)
	ErrorCallback       func(msg, uri string, reconnectRequested bool)
	MediaPlayingStarted func(uri string)
	MediaPlayingStopped func(uri string)
	PacketDrop          func(uri string)

	mu           sync.Mutex
	metadata     map[string]string
	crashed      bool
	reader       *Reader
	videoDecoder *Decoder
	audioDecoder *Decoder
	videoFilter  *Filter
	audioFilter  *Filter
	display      *Display
	audio        *Audio
	writer       *Writer
	queues       *pipelineQueues
}

// NewPlayer creates a Player for the given URI with the same defaults a
// fresh pipeline instance starts from.
func NewPlayer(uri string) *Player {
	astiav.SetLogLevel(astiav.LogLevelQuiet)
	return &Player{
		URI:                 uri,
		LiveStream:          true,
		Headless:            true,
		RequestReconnect:    true,
		BufferSizeInSeconds: 1,
		FileStartFromSeek:   -1.0,
		Volume:              100,
		metadata:            make(map[string]string),
	}
}

// Play runs the pipeline to completion on the calling goroutine. With a
// window attached (Headless false) the display loop runs here as well, since
// some toolkits require all UI calls from one thread.
func (p *Player) Play() {
	q := &pipelineQueues{
		videoPkts:     NewPacketQueue(128),
		audioPkts:     NewPacketQueue(128),
		writerPkts:    NewPacketQueue(128),
		decodedVideo:  NewFrameQueue(1),
		decodedAudio:  NewFrameQueue(1),
		filteredVideo: NewFrameQueue(1),
		filteredAudio: NewFrameQueue(1),
	}
	var g errgroup.Group

	if err := p.setup(q, &g); err != nil {
		p.mu.Lock()
		p.crashed = true
		r := p.reader
		p.mu.Unlock()
		if p.ErrorCallback != nil {
			p.ErrorCallback(err.Error(), p.URI, p.RequestReconnect)
		} else {
			log.Printf("[%s] player error: %v", p.URI, err)
		}
		if r != nil {
			r.terminate()
		}
	}

	_ = g.Wait()
	p.teardown()
}

// setup builds the stages and launches their loops, honoring the live,
// hidden and disable flags. It returns the first construction failure.
func (p *Player) setup(q *pipelineQueues, g *errgroup.Group) error {
	reader, err := newReader(p.URI)
	if err != nil {
		return err
	}
	reader.clearCallback = p.clearQueues
	reader.liveStream = p.LiveStream
	reader.packetDrop = p.PacketDrop
	reader.infoCallback = p.InfoCallback
	reader.cacheSizeInSeconds = p.BufferSizeInSeconds
	reader.disableVideo = p.DisableVideo
	reader.disableAudio = p.DisableAudio
	if !p.DisableVideo && !p.Hidden {
		reader.videoPkts = q.videoPkts
	}
	if !p.DisableAudio && !p.Hidden {
		reader.audioPkts = q.audioPkts
	}

	p.mu.Lock()
	p.reader = reader
	p.queues = q
	p.mu.Unlock()

	if p.LiveStream {
		writer := newWriter(reader)
		writer.disableVideo = p.DisableVideo
		writer.disableAudio = p.DisableAudio
		writer.input = q.writerPkts
		p.mu.Lock()
		writer.metadata = make(map[string]string, len(p.metadata))
		for k, v := range p.metadata {
			writer.metadata[k] = v
		}
		p.writer = writer
		p.mu.Unlock()
		if p.Hidden {
			reader.writerPkts = q.writerPkts
		}
	}

	if p.FileStartFromSeek > 0.0 {
		p.Seek(p.FileStartFromSeek)
	}

	if reader.hasVideo() && !p.DisableVideo && !p.Hidden {
		if p.HWDeviceType != "" {
			log.Printf("[%s] using hw decoder %s", p.URI, p.HWDeviceType)
		}
		vd, err := newDecoder(reader, astiav.MediaTypeVideo, q.videoPkts, q.decodedVideo, p.HWDeviceType)
		if err != nil {
			return err
		}
		if p.LiveStream {
			vd.writerPkts = q.writerPkts
		}
		vf, err := newFilter(vd, p.VideoFilter, q.decodedVideo, q.filteredVideo)
		if err != nil {
			vd.free()
			return err
		}
		p.mu.Lock()
		p.videoDecoder, p.videoFilter = vd, vf
		p.mu.Unlock()
	}
	if reader.hasAudio() && !p.DisableAudio && !p.Hidden {
		ad, err := newDecoder(reader, astiav.MediaTypeAudio, q.audioPkts, q.decodedAudio, "")
		if err != nil {
			return err
		}
		if p.LiveStream {
			ad.writerPkts = q.writerPkts
		}
		af, err := newFilter(ad, p.AudioFilter, q.decodedAudio, q.filteredAudio)
		if err != nil {
			ad.free()
			return err
		}
		p.mu.Lock()
		p.audioDecoder, p.audioFilter = ad, af
		p.mu.Unlock()
	}

	g.Go(func() error {
		for reader.read() {
		}
		return nil
	})
	if vd := p.videoDecoder; vd != nil {
		g.Go(func() error {
			for vd.decode() {
			}
			return nil
		})
		vf := p.videoFilter
		g.Go(func() error {
			for vf.filter() {
			}
			return nil
		})
	}
	if ad := p.audioDecoder; ad != nil {
		g.Go(func() error {
			for ad.decode() {
			}
			return nil
		})
		af := p.audioFilter
		g.Go(func() error {
			for af.filter() {
			}
			return nil
		})
	}
	if w := p.writer; w != nil {
		g.Go(func() error {
			for w.write() {
			}
			return nil
		})
	}

	if reader.hasAudio() && !p.DisableAudio && !p.Hidden {
		audio, err := newAudio(reader, q.filteredAudio, p.AudioDriverIndex)
		if err != nil {
			return err
		}
		audio.setVolume(float64(p.Volume) / 100.0)
		audio.mute.Store(p.Mute)
		audio.audioCallback = p.AudioCallback
		if !reader.hasVideo() {
			audio.progressCallback = p.ProgressCallback
		}
		p.mu.Lock()
		p.audio = audio
		p.mu.Unlock()
	}

	if p.MediaPlayingStarted != nil {
		p.MediaPlayingStarted(p.URI)
	}

	if reader.hasVideo() && !p.DisableVideo && !p.Hidden {
		display := newDisplay(reader, q.filteredVideo, p.Renderer, p.Events, p.Headless)
		display.renderCallback = p.RenderCallback
		display.progressCallback = p.ProgressCallback
		display.clearCallback = p.clearQueues
		p.mu.Lock()
		p.display = display
		p.mu.Unlock()
		if p.Headless {
			g.Go(func() error {
				for display.render() {
				}
				return nil
			})
		} else {
			for display.render() {
			}
		}
	}
	return nil
}

// teardown releases the stages once every loop has returned, waits for the
// audio callback to retire, and reports the stop on a detached goroutine.
func (p *Player) teardown() {
	p.mu.Lock()
	display, writer := p.display, p.writer
	vd, ad, vf, af := p.videoDecoder, p.audioDecoder, p.videoFilter, p.audioFilter
	audio, reader := p.audio, p.reader
	p.display, p.writer = nil, nil
	p.videoDecoder, p.audioDecoder, p.videoFilter, p.audioFilter = nil, nil, nil, nil
	p.audio, p.reader, p.queues = nil, nil, nil
	p.mu.Unlock()

	if display != nil {
		display.free()
	}
	if writer != nil {
		writer.free()
	}
	if vf != nil {
		vf.free()
	}
	if vd != nil {
		vd.free()
	}
	if af != nil {
		af.free()
	}
	if ad != nil {
		ad.free()
	}
	if audio != nil {
		for count := 0; !audio.isClosed() && count < 200; count++ {
			time.Sleep(5 * time.Millisecond)
		}
		if !audio.isClosed() {
			log.Printf("[%s] audio shutdown timeout", p.URI)
		}
		audio.free()
	}
	if reader != nil {
		reader.close()
	}

	if p.MediaPlayingStopped != nil {
		go p.MediaPlayingStopped(p.URI)
	}
}

// Start runs Play on a detached goroutine.
func (p *Player) Start() {
	go p.Play()
}

// Terminate requests pipeline shutdown without blocking the caller.
func (p *Player) Terminate() {
	r := p.getReader()
	if r == nil {
		return
	}
	go r.terminate()
}

// clearQueues empties every decoder-facing queue and injects a flush request
// into each decoder, so a seek lands on clean state.
func (p *Player) clearQueues() {
	p.mu.Lock()
	reader, q := p.reader, p.queues
	vd, ad := p.videoDecoder, p.audioDecoder
	vf, af := p.videoFilter, p.audioFilter
	p.mu.Unlock()
	if reader == nil || q == nil || reader.closed.Load() {
		return
	}
	q.audioPkts.Clear()
	q.videoPkts.Clear()
	if ad != nil {
		q.decodedAudio.Clear()
		if flush := flushPacket(); flush != nil {
			q.audioPkts.Push(flush)
		}
	}
	if vd != nil {
		q.decodedVideo.Clear()
		if flush := flushPacket(); flush != nil {
			q.videoPkts.Push(flush)
		}
	}
	if af != nil {
		q.filteredAudio.Clear()
	}
	if vf != nil {
		q.filteredVideo.Clear()
	}
}

// flushPacket builds the in-band decoder flush request: a packet without a
// pts whose payload is the flush marker.
func flushPacket() *astiav.Packet {
	p := astiav.AllocPacket()
	if p == nil {
		return nil
	}
	if err := p.FromData(append([]byte(nil), flushPayload...)); err != nil {
		p.Free()
		return nil
	}
	return p
}

// Seek requests playback at pct of the media duration, pct in [0, 1].
func (p *Player) Seek(pct float64) {
	r := p.getReader()
	if r == nil || r.closed.Load() {
		return
	}
	tb := r.videoTimeBase()
	if !r.hasVideo() {
		tb = r.audioTimeBase()
	}
	d := q2d(tb)
	if d == 0 {
		return
	}
	pts := int64((float64(r.startTime()) + pct*float64(r.duration())) / d / 1000.0)
	r.seek(pts)
	if r.paused.Load() {
		p.clearQueues()
		p.mu.Lock()
		display := p.display
		p.mu.Unlock()
		if display != nil {
			display.oneShot.Store(true)
		} else if p.ProgressCallback != nil {
			p.ProgressCallback(pct, p.URI)
		}
	}
}

func (p *Player) getReader() *Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reader
}

func (p *Player) getAudio() *Audio {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audio
}

func (p *Player) getWriter() *Writer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer
}

func (p *Player) Width() int {
	if r := p.getReader(); r != nil {
		return r.width()
	}
	return -1
}

func (p *Player) Height() int {
	if r := p.getReader(); r != nil {
		return r.height()
	}
	return -1
}

// FrameRate returns the average video frame rate, 0 without video.
func (p *Player) FrameRate() float64 {
	if r := p.getReader(); r != nil {
		return q2d(r.frameRate())
	}
	return 0
}

// Channels returns the audio channel count, -1 without audio.
func (p *Player) Channels() int {
	if r := p.getReader(); r != nil {
		return r.channels()
	}
	return -1
}

// SampleRate returns the audio sample rate, -1 without audio.
func (p *Player) SampleRate() int {
	if r := p.getReader(); r != nil {
		return r.sampleRate()
	}
	return -1
}

// GetVideoCodec names the video codec of the input.
func (p *Player) GetVideoCodec() string {
	if r := p.getReader(); r != nil && r.hasVideo() {
		return r.videoCodecID().String()
	}
	return "unknown"
}

// Duration returns the media duration in milliseconds.
func (p *Player) Duration() int64 {
	if r := p.getReader(); r != nil {
		return r.duration()
	}
	return 0
}

func (p *Player) HasVideo() bool {
	if r := p.getReader(); r != nil {
		return r.hasVideo()
	}
	return false
}

func (p *Player) HasAudio() bool {
	if r := p.getReader(); r != nil {
		return r.hasAudio()
	}
	return false
}

func (p *Player) IsPaused() bool {
	if r := p.getReader(); r != nil {
		return r.paused.Load()
	}
	return false
}

func (p *Player) IsRecording() bool {
	if r := p.getReader(); r != nil {
		return r.recording.Load()
	}
	return false
}

func (p *Player) IsMuted() bool {
	if a := p.getAudio(); a != nil {
		return a.mute.Load()
	}
	return false
}

func (p *Player) TogglePaused() {
	if r := p.getReader(); r != nil {
		r.paused.Store(!r.paused.Load())
	}
}

// SetVolume accepts a volume in the 0..100 range.
func (p *Player) SetVolume(volume int) {
	p.Volume = volume
	if a := p.getAudio(); a != nil {
		a.setVolume(float64(volume) / 100.0)
	}
}

func (p *Player) GetVolume() int {
	if a := p.getAudio(); a != nil {
		return int(100 * a.getVolume())
	}
	return 0
}

func (p *Player) SetMute(mute bool) {
	p.Mute = mute
	if a := p.getAudio(); a != nil {
		a.mute.Store(mute)
	}
}

// ToggleRecording flips the recording flag; the next file uses filename as
// its base name, the extension being inferred from the audio codec.
func (p *Player) ToggleRecording(filename string) {
	if w := p.getWriter(); w != nil {
		w.setBaseFilename(filename)
	}
	if r := p.getReader(); r != nil {
		r.recording.Store(!r.recording.Load())
	}
}

// StartFileBreak closes the current recording file and continues into a new
// one named filename, without dropping packets in between.
func (p *Player) StartFileBreak(filename string) {
	if w := p.getWriter(); w != nil {
		w.setBaseFilename(filename)
	}
	go p.fileBreak()
}

func (p *Player) fileBreak() {
	r, w := p.getReader(), p.getWriter()
	if r == nil || w == nil || !r.recording.Load() {
		return
	}
	r.recording.Store(false)
	for w.isOpen() {
		time.Sleep(10 * time.Millisecond)
		if p.getWriter() == nil {
			return
		}
	}
	if r = p.getReader(); r != nil {
		r.recording.Store(true)
	}
}

// ClearBuffer drops all queued packets, trimming accumulated latency.
func (p *Player) ClearBuffer() {
	r := p.getReader()
	if r == nil {
		return
	}
	if vq := r.videoQueue(); vq != nil {
		vq.Clear()
	}
	if aq := r.audioQueue(); aq != nil {
		aq.Clear()
	}
}

// GetStreamInfo returns an HTML summary of the discovered streams.
func (p *Player) GetStreamInfo() string {
	if r := p.getReader(); r != nil {
		return r.streamInfo()
	}
	return "no stream info available"
}

func (p *Player) GetAudioCodec() string {
	if r := p.getReader(); r != nil && r.hasAudio() {
		return r.audioCodecID().String()
	}
	return "unknown"
}

func (p *Player) GetFFmpegVersions() string { return FFmpegVersions() }

func (p *Player) GetAudioDrivers() []string { return AudioDrivers() }

func (p *Player) GetHardwareDecoders() []string { return HardwareDecoders() }

func (p *Player) SetMetaData(key, value string) {
	p.mu.Lock()
	p.metadata[key] = value
	p.mu.Unlock()
}

// IsCameraStream reports whether the URI names a live camera source. The
// recognized schemes are matched case-sensitively, lower case and upper case
// forms only.
func (p *Player) IsCameraStream() bool {
	for _, prefix := range []string{
		"rtsp://", "http://", "https://",
		"RTSP://", "HTTP://", "HTTPS://",
	} {
		if strings.HasPrefix(p.URI, prefix) {
			return true
		}
	}
	return false
}

// Crashed reports whether setup failed and the error callback fired.
func (p *Player) Crashed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crashed
}

func (p *Player) String() string { return p.URI }

// Equal compares players by URI.
func (p *Player) Equal(other *Player) bool {
	if other == nil || p.URI == "" || other.URI == "" {
		return false
	}
	return p.URI == other.URI
}
