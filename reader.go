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
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"
)

// maxTimeout is the I/O deadline for one demuxer operation. It is passed to
// the protocol layer at open so that a stalled read aborts on its own.
const maxTimeout = 5 * time.Second

// Reader owns the demuxer. It opens the input URI, discovers the video and
// audio streams and routes packets downstream: split mode feeds the decoder
// queues, muxed mode feeds every packet unchanged to the writer queue.
type Reader struct {
	uri    string
	fmtCtx *astiav.FormatContext
	pkt    *astiav.Packet

	videoStreamIndex int
	audioStreamIndex int
	clocks           map[int]*streamClock

	qmu        sync.Mutex
	videoPkts  *PacketQueue
	audioPkts  *PacketQueue
	writerPkts *PacketQueue

	lastVideoPts atomic.Int64
	lastAudioPts atomic.Int64
	lastVideoRts atomic.Int64
	lastAudioRts atomic.Int64
	seekPts      atomic.Int64

	terminated atomic.Bool
	closed     atomic.Bool
	paused     atomic.Bool
	recording  atomic.Bool

	liveStream         bool
	disableVideo       bool
	disableAudio       bool
	cacheSizeInSeconds int

	clearCallback func()
	packetDrop    func(uri string)
	infoCallback  func(msg, uri string)
}

func newReader(uri string) (*Reader, error) {
	r := &Reader{
		uri:              uri,
		videoStreamIndex: -1,
		audioStreamIndex: -1,
		clocks:           make(map[int]*streamClock),
	}
	r.lastVideoPts.Store(NoPts)
	r.lastAudioPts.Store(NoPts)
	r.seekPts.Store(NoPts)

	r.fmtCtx = astiav.AllocFormatContext()
	if r.fmtCtx == nil {
		return nil, errors.New("avio: alloc format context failed")
	}

	opts := astiav.NewDictionary()
	defer opts.Free()
	timeoutUs := fmt.Sprintf("%d", maxTimeout.Microseconds())
	_ = opts.Set("timeout", timeoutUs, 0)
	_ = opts.Set("rw_timeout", timeoutUs, 0)

	if err := r.fmtCtx.OpenInput(uri, nil, opts); err != nil {
		r.fmtCtx.Free()
		return nil, fmt.Errorf("avio: open input %s: %w", uri, err)
	}
	if err := r.fmtCtx.FindStreamInfo(nil); err != nil {
		r.close()
		return nil, fmt.Errorf("avio: find stream info %s: %w", uri, err)
	}

	for i, s := range r.fmtCtx.Streams() {
		switch s.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if r.videoStreamIndex < 0 {
				r.videoStreamIndex = i
			}
		case astiav.MediaTypeAudio:
			if r.audioStreamIndex < 0 {
				r.audioStreamIndex = i
			}
		}
		r.clocks[i] = newStreamClock(s.TimeBase())
	}

	r.pkt = astiav.AllocPacket()
	if r.pkt == nil {
		r.close()
		return nil, errors.New("avio: alloc packet failed")
	}
	return r, nil
}

func (r *Reader) close() {
	if r.fmtCtx != nil {
		r.fmtCtx.CloseInput()
		r.fmtCtx.Free()
		r.fmtCtx = nil
	}
	if r.pkt != nil {
		r.pkt.Free()
		r.pkt = nil
	}
}

func (r *Reader) videoQueue() *PacketQueue {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return r.videoPkts
}

func (r *Reader) audioQueue() *PacketQueue {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return r.audioPkts
}

func (r *Reader) writerQueue() *PacketQueue {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	return r.writerPkts
}

// read performs one demuxer iteration. It returns false once the reader is
// closed and its sentinels have been delivered.
func (r *Reader) read() bool {
	var err error
	if sp := r.seekPts.Load(); sp != NoPts {
		if r.clearCallback != nil {
			r.clearCallback()
		}
		seekIndex := r.videoStreamIndex
		lastPts := r.lastVideoPts.Load()
		if !r.hasVideo() {
			seekIndex = r.audioStreamIndex
			lastPts = r.lastAudioPts.Load()
		}
		flags := astiav.NewSeekFlags(astiav.SeekFlagFrame)
		if lastPts != NoPts && sp < lastPts {
			flags = astiav.NewSeekFlags(astiav.SeekFlagFrame, astiav.SeekFlagBackward)
		}
		if serr := r.fmtCtx.SeekFrame(seekIndex, sp, flags); serr != nil {
			log.Printf("[%s] seek error: %v", r.uri, serr)
		}
		err = r.fmtCtx.ReadFrame(r.pkt)
		if err == nil && r.clearCallback != nil {
			r.clearCallback()
		}
		r.seekPts.Store(NoPts)
	} else {
		err = r.fmtCtx.ReadFrame(r.pkt)
	}

	if err != nil {
		switch {
		case errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF):
			r.finish()
		case errors.Is(err, astiav.ErrEtimedout) || errors.Is(err, astiav.ErrExit):
			if r.infoCallback != nil {
				r.infoCallback("Reader terminated by timeout", r.uri)
			}
			r.finish()
		default:
			log.Printf("[%s] read error: %v", r.uri, err)
			r.terminate()
		}
		return false
	}

	if r.closed.Load() {
		r.pkt.Unref()
		return false
	}

	if c := r.clocks[r.pkt.StreamIndex()]; c != nil {
		c.observe(r.pkt.Pts())
	}

	if wq := r.writerQueue(); wq != nil {
		if p, err := refPacket(r.pkt); err == nil {
			wq.Push(p)
		}
		r.pkt.Unref()
		return !r.closed.Load()
	}

	switch r.pkt.StreamIndex() {
	case r.videoStreamIndex:
		if vq := r.videoQueue(); vq != nil {
			r.lastVideoPts.Store(r.pkt.Pts())
			if vq.Full() {
				if r.packetDrop != nil {
					r.packetDrop(r.uri)
				}
			} else if p, err := refPacket(r.pkt); err == nil {
				vq.Push(p)
			}
		}
	case r.audioStreamIndex:
		if aq := r.audioQueue(); aq != nil {
			r.lastAudioPts.Store(r.pkt.Pts())
			if p, err := refPacket(r.pkt); err == nil {
				aq.Push(p)
			}
		}
	}
	r.pkt.Unref()
	return !r.closed.Load()
}

// finish delivers end-of-stream sentinels to every attached queue.
func (r *Reader) finish() {
	r.closed.Store(true)
	r.seekPts.Store(NoPts)
	if vq := r.videoQueue(); vq != nil {
		vq.Push(nil)
	}
	if aq := r.audioQueue(); aq != nil {
		aq.Push(nil)
	}
	if wq := r.writerQueue(); wq != nil {
		wq.Push(nil)
	}
}

// terminate is the pipeline's single cancellation entry point. Idempotent:
// it clears the video and audio packet queues, pushes a sentinel into each
// attached queue (the writer queue included, which is not cleared) and
// detaches them so nothing can be pushed afterwards.
func (r *Reader) terminate() {
	r.qmu.Lock()
	already := r.closed.Load() || r.terminated.Load()
	vq, aq, wq := r.videoPkts, r.audioPkts, r.writerPkts
	r.videoPkts, r.audioPkts, r.writerPkts = nil, nil, nil
	r.closed.Store(true)
	r.terminated.Store(true)
	r.qmu.Unlock()

	if vq != nil && !already {
		vq.Clear()
		vq.Push(nil)
	}
	if aq != nil && !already {
		aq.Clear()
		aq.Push(nil)
	}
	if wq != nil {
		wq.Push(nil)
	}
}

func (r *Reader) seek(pts int64) {
	r.seekPts.Store(pts)
}

// realTime projects pts on the given stream to milliseconds, -1 when absent.
func (r *Reader) realTime(streamIndex int, pts int64) int64 {
	if c := r.clocks[streamIndex]; c != nil {
		return c.realTime(pts)
	}
	return -1
}

// ptsFromRealTime is the inverse projection for the given stream.
func (r *Reader) ptsFromRealTime(streamIndex int, rt int64) int64 {
	if c := r.clocks[streamIndex]; c != nil {
		return c.ptsFromRealTime(rt)
	}
	return NoPts
}

// updateRt records the wall-clock position last consumed on a stream. The
// display slaves video pacing to the audio value.
func (r *Reader) updateRt(streamIndex int, rts int64) {
	if streamIndex == r.audioStreamIndex {
		r.lastAudioRts.Store(rts)
	}
	if streamIndex == r.videoStreamIndex {
		r.lastVideoRts.Store(rts)
	}
}

// duration returns the container duration in milliseconds.
func (r *Reader) duration() int64 {
	if r.fmtCtx == nil {
		return 0
	}
	d := r.fmtCtx.Duration()
	if d == NoPts {
		return 0
	}
	return d / 1000
}

// startTime returns the container start time in milliseconds.
func (r *Reader) startTime() int64 {
	if r.fmtCtx == nil {
		return 0
	}
	st := r.fmtCtx.StartTime()
	if st == NoPts {
		return 0
	}
	return st / 1000
}

func (r *Reader) hasVideo() bool { return r.videoStreamIndex >= 0 }
func (r *Reader) hasAudio() bool { return r.audioStreamIndex >= 0 }

func (r *Reader) videoStream() *astiav.Stream {
	if !r.hasVideo() {
		return nil
	}
	return r.fmtCtx.Streams()[r.videoStreamIndex]
}

func (r *Reader) audioStream() *astiav.Stream {
	if !r.hasAudio() {
		return nil
	}
	return r.fmtCtx.Streams()[r.audioStreamIndex]
}

func (r *Reader) width() int {
	if s := r.videoStream(); s != nil {
		return s.CodecParameters().Width()
	}
	return -1
}

func (r *Reader) height() int {
	if s := r.videoStream(); s != nil {
		return s.CodecParameters().Height()
	}
	return -1
}

func (r *Reader) frameRate() astiav.Rational {
	if s := r.videoStream(); s != nil {
		return s.AvgFrameRate()
	}
	return astiav.NewRational(0, 0)
}

func (r *Reader) videoCodecID() astiav.CodecID {
	if s := r.videoStream(); s != nil {
		return s.CodecParameters().CodecID()
	}
	return astiav.CodecIDNone
}

func (r *Reader) videoTimeBase() astiav.Rational {
	if c := r.clocks[r.videoStreamIndex]; r.hasVideo() && c != nil {
		return c.timeBase
	}
	return astiav.NewRational(0, 0)
}

func (r *Reader) channels() int {
	if s := r.audioStream(); s != nil {
		return s.CodecParameters().ChannelLayout().Channels()
	}
	return -1
}

func (r *Reader) sampleRate() int {
	if s := r.audioStream(); s != nil {
		return s.CodecParameters().SampleRate()
	}
	return -1
}

func (r *Reader) audioCodecID() astiav.CodecID {
	if s := r.audioStream(); s != nil {
		return s.CodecParameters().CodecID()
	}
	return astiav.CodecIDNone
}

func (r *Reader) audioTimeBase() astiav.Rational {
	if c := r.clocks[r.audioStreamIndex]; r.hasAudio() && c != nil {
		return c.timeBase
	}
	return astiav.NewRational(0, 0)
}

// streamInfo renders an HTML summary of the discovered streams.
func (r *Reader) streamInfo() string {
	var b strings.Builder
	if s := r.videoStream(); s != nil {
		cp := s.CodecParameters()
		fmt.Fprintf(&b, "<h4>Video Stream Parameters</h4>")
		fmt.Fprintf(&b, "Video Codec: %s<br>", cp.CodecID().String())
		fmt.Fprintf(&b, "Pixel Format: %s<br>", cp.PixelFormat().String())
		fmt.Fprintf(&b, "Resolution: %d x %d<br>", cp.Width(), cp.Height())
		fmt.Fprintf(&b, "Frame Rate: %g", q2d(s.AvgFrameRate()))
		if r.disableVideo {
			b.WriteString("<br><b>* Video has been disabled</b>")
		}
	} else {
		b.WriteString("<br><b>No Video Stream Found</b>")
	}
	if s := r.audioStream(); s != nil {
		cp := s.CodecParameters()
		fmt.Fprintf(&b, "<h4>Audio Stream Parameters</h4>")
		fmt.Fprintf(&b, "Audio Codec: %s<br>", cp.CodecID().String())
		fmt.Fprintf(&b, "Sample Format: %s<br>", cp.SampleFormat().String())
		fmt.Fprintf(&b, "Channel Layout: %s<br>", cp.ChannelLayout().String())
		fmt.Fprintf(&b, "Channels: %d<br>", cp.ChannelLayout().Channels())
		fmt.Fprintf(&b, "Sample Rate: %d<br>", cp.SampleRate())
		fmt.Fprintf(&b, "Time Base: %d : %d", s.TimeBase().Num(), s.TimeBase().Den())
		if r.disableAudio {
			b.WriteString("<br><b>* Audio has been disabled</b>")
		}
	} else {
		b.WriteString("<br><b>No Audio Stream Found</b>")
	}
	return b.String()
}
