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
	"log"
	"sync"
	"sync/atomic"

	astiav "github.com/asticode/go-astiav"
)

// Writer persists compressed packets to a container file while the reader's
// recording flag is set. It keeps a rolling cache of recent packets so that
// a new file starts roughly cacheSizeInSeconds before the recording toggle,
// and for continuous recording there is some overlap across file splits.
//
// The first packet of the video cache is always a key frame.
type Writer struct {
	reader *Reader
	input  *PacketQueue

	mu           sync.Mutex
	baseFilename string
	filename     string

	fmtCtx       *astiav.FormatContext
	ioCtx        *astiav.IOContext
	videoStream  *astiav.Stream
	audioStream  *astiav.Stream
	videoNextPts int64
	audioNextPts int64
	opened       atomic.Bool

	videoCache *PacketQueue
	audioCache *PacketQueue

	disableVideo bool
	disableAudio bool
	metadata     map[string]string
}

func newWriter(reader *Reader) *Writer {
	return &Writer{
		reader:     reader,
		videoCache: NewPacketQueue(-1),
		audioCache: NewPacketQueue(-1),
	}
}

func (w *Writer) setBaseFilename(name string) {
	w.mu.Lock()
	w.baseFilename = name
	w.mu.Unlock()
}

func (w *Writer) getBaseFilename() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.baseFilename
}

func (w *Writer) isOpen() bool { return w.opened.Load() }

// open infers the container from the audio codec, creates output streams
// with codec parameters copied verbatim from the input, opens the file and
// writes the header.
func (w *Writer) open() error {
	extension, format := ".mp4", "mp4"
	if w.reader.hasAudio() && !w.disableAudio {
		switch w.reader.audioCodecID() {
		case astiav.CodecIDPcmMulaw, astiav.CodecIDPcmAlaw:
			extension, format = ".mov", "mov"
		case astiav.CodecIDAac:
			extension, format = ".mp4", "mp4"
		default:
			w.disableAudio = true
			log.Printf("[%s] audio codec %s is not supported, audio recording is disabled",
				w.reader.uri, w.reader.audioCodecID().String())
		}
	}
	w.filename = w.getBaseFilename() + extension

	fmtCtx, err := astiav.AllocOutputFormatContext(nil, format, w.filename)
	if err != nil {
		return fmt.Errorf("avio: alloc output format context: %w", err)
	}
	w.fmtCtx = fmtCtx

	if w.reader.hasVideo() && !w.disableVideo {
		is := w.reader.videoStream()
		os := w.fmtCtx.NewStream(nil)
		if os == nil {
			w.freeOutput()
			return errors.New("avio: new video output stream failed")
		}
		if err := is.CodecParameters().Copy(os.CodecParameters()); err != nil {
			w.freeOutput()
			return fmt.Errorf("avio: copy video codec parameters: %w", err)
		}
		os.SetTimeBase(is.TimeBase())
		w.videoStream = os
	}
	if w.reader.hasAudio() && !w.disableAudio {
		is := w.reader.audioStream()
		os := w.fmtCtx.NewStream(nil)
		if os == nil {
			w.freeOutput()
			return errors.New("avio: new audio output stream failed")
		}
		if err := is.CodecParameters().Copy(os.CodecParameters()); err != nil {
			w.freeOutput()
			return fmt.Errorf("avio: copy audio codec parameters: %w", err)
		}
		os.SetTimeBase(is.TimeBase())
		w.audioStream = os
	}

	ioCtx, err := astiav.OpenIOContext(w.filename, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
	if err != nil {
		w.freeOutput()
		return fmt.Errorf("avio: open %s: %w", w.filename, err)
	}
	w.ioCtx = ioCtx
	w.fmtCtx.SetPb(w.ioCtx)

	if len(w.metadata) > 0 {
		md := astiav.NewDictionary()
		for k, v := range w.metadata {
			_ = md.Set(k, v, 0)
		}
		w.fmtCtx.SetMetadata(md)
	}

	if err := w.fmtCtx.WriteHeader(nil); err != nil {
		w.freeOutput()
		return fmt.Errorf("avio: write header %s: %w", w.filename, err)
	}

	w.videoNextPts = 0
	w.audioNextPts = 0
	w.opened.Store(true)
	log.Printf("[%s] recording started -> %s", w.reader.uri, w.filename)
	return nil
}

func (w *Writer) freeOutput() {
	if w.ioCtx != nil {
		_ = w.ioCtx.Close()
		w.ioCtx.Free()
		w.ioCtx = nil
	}
	if w.fmtCtx != nil {
		w.fmtCtx.Free()
		w.fmtCtx = nil
	}
	w.videoStream = nil
	w.audioStream = nil
	w.opened.Store(false)
}

// renumber replaces pts and dts with the counter and advances it by the
// packet's duration, normalizing timelines across file splits.
func renumber(pkt *astiav.Packet, nextPts *int64) {
	pkt.SetPts(*nextPts)
	pkt.SetDts(*nextPts)
	*nextPts += pkt.Duration()
}

// adjustPts remaps the packet onto the output stream and renumbers it.
func (w *Writer) adjustPts(pkt *astiav.Packet) {
	switch pkt.StreamIndex() {
	case w.reader.videoStreamIndex:
		if w.videoStream != nil {
			pkt.SetStreamIndex(w.videoStream.Index())
		}
		renumber(pkt, &w.videoNextPts)
	case w.reader.audioStreamIndex:
		if w.audioStream != nil {
			pkt.SetStreamIndex(w.audioStream.Index())
		}
		renumber(pkt, &w.audioNextPts)
	}
}

// writePacket mutates and muxes the packet; the caller retains ownership.
func (w *Writer) writePacket(pkt *astiav.Packet) {
	if pkt == nil {
		return
	}
	video := pkt.StreamIndex() == w.reader.videoStreamIndex && !w.disableVideo
	audio := pkt.StreamIndex() == w.reader.audioStreamIndex && !w.disableAudio
	if !video && !audio {
		return
	}
	w.adjustPts(pkt)
	if err := w.fmtCtx.WriteInterleavedFrame(pkt); err != nil {
		log.Printf("[%s] packet write error: %v", w.reader.uri, err)
	}
}

func (w *Writer) writeClone(pkt *astiav.Packet) {
	clone, err := refPacket(pkt)
	if err != nil {
		log.Printf("[%s] packet clone error: %v", w.reader.uri, err)
		return
	}
	w.writePacket(clone)
	clone.Free()
}

// writeCache drains both caches in A/V-interleaved order: emit the earlier
// front by real time, and after a video packet drain all audio packets whose
// real time does not exceed it. Cache contents are kept, preserving overlap
// across file splits.
func (w *Writer) writeCache() {
	vi, ai := 0, 0
	for vi < w.videoCache.Len() && ai < w.audioCache.Len() {
		vp, _ := w.videoCache.At(vi)
		ap, _ := w.audioCache.At(ai)
		vrt := w.reader.realTime(w.reader.videoStreamIndex, vp.Pts())
		art := w.reader.realTime(w.reader.audioStreamIndex, ap.Pts())
		if vrt > art && art != -1 {
			for ai < w.audioCache.Len() {
				ap, _ = w.audioCache.At(ai)
				if w.reader.realTime(w.reader.audioStreamIndex, ap.Pts()) > vrt {
					break
				}
				w.writeClone(ap)
				ai++
			}
		} else {
			w.writeClone(vp)
			vi++
		}
	}
	for ; vi < w.videoCache.Len(); vi++ {
		vp, _ := w.videoCache.At(vi)
		w.writeClone(vp)
	}
	for ; ai < w.audioCache.Len(); ai++ {
		ap, _ := w.audioCache.At(ai)
		w.writeClone(ap)
	}
}

// write handles one input packet. The input queue is multiplexed by the
// reader or by the decoders; either source may deliver its end-of-stream
// sentinel first, and the first nil closes the file and stops the loop.
func (w *Writer) write() bool {
	pkt := w.input.Pop()

	if w.reader.recording.Load() && pkt != nil {
		if w.fmtCtx == nil {
			if err := w.open(); err != nil {
				log.Printf("[%s] error writing to %s: %v", w.reader.uri, w.filename, err)
			} else {
				w.writeCache()
			}
		}
		if w.fmtCtx != nil {
			w.writeClone(pkt)
		}
	} else if w.fmtCtx != nil {
		w.close()
	}

	if pkt == nil {
		return false
	}

	w.pushCachePkt(pkt)
	return true
}

// pushCachePkt appends the packet to its stream cache and trims the caches
// to the configured pre-roll span. The cache takes ownership of the packet.
func (w *Writer) pushCachePkt(pkt *astiav.Packet) {
	switch pkt.StreamIndex() {
	case w.reader.videoStreamIndex:
		// only trim when a new key frame enters, so the cache head can stay
		// on a key frame
		if pkt.Flags().Has(astiav.PacketFlagKey) {
			w.trimVideoCache(w.reader.realTime(w.reader.videoStreamIndex, pkt.Pts()))
		} else if w.videoCache.Len() == 0 {
			// an empty cache never starts on a non-key frame
			pkt.Free()
			return
		}
		w.videoCache.Push(pkt)
	case w.reader.audioStreamIndex:
		if !w.reader.hasVideo() && w.audioCache.Len() > 0 {
			w.trimAudioCache(w.reader.realTime(w.reader.audioStreamIndex, pkt.Pts()))
		}
		w.audioCache.Push(pkt)
	default:
		pkt.Free()
	}
}

// trimVideoCache walks key frames from the back of the cache and retains
// everything from the latest key frame whose separation from the incoming
// packet covers the pre-roll target, then aligns the audio cache and
// re-asserts the key-frame head invariant.
func (w *Writer) trimVideoCache(streamTime int64) {
	target := int64(w.reader.cacheSizeInSeconds) * 1000
	idx := w.videoCache.Len() - 1
	keep := -1
	for idx >= 0 {
		k := w.videoCache.FindLastKeyFrame(idx)
		if k < 0 {
			break
		}
		kp, _ := w.videoCache.At(k)
		kt := w.reader.realTime(w.reader.videoStreamIndex, kp.Pts())
		if streamTime-kt >= target || k == 0 {
			keep = k
			break
		}
		idx = k - 1
	}
	if keep > 0 {
		kp, _ := w.videoCache.At(keep)
		w.alignAudioCache(w.reader.realTime(w.reader.videoStreamIndex, kp.Pts()))
		w.videoCache.EraseFront(keep)
	}
	// guarantee that the first video packet in the cache is a key frame
	if ki := w.videoCache.FindFirstKeyFrame(0); ki > 0 {
		kp, _ := w.videoCache.At(ki)
		w.alignAudioCache(w.reader.realTime(w.reader.videoStreamIndex, kp.Pts()))
		w.videoCache.EraseFront(ki)
	}
}

// alignAudioCache drops audio packets older than the retained key frame.
func (w *Writer) alignAudioCache(keyFrameTime int64) {
	if !w.reader.hasAudio() {
		return
	}
	audioPts := w.reader.ptsFromRealTime(w.reader.audioStreamIndex, keyFrameTime)
	if ai := w.audioCache.FindPts(audioPts); ai > 0 {
		w.audioCache.EraseFront(ai)
	}
}

// trimAudioCache bounds an audio-only cache by time.
func (w *Writer) trimAudioCache(streamTime int64) {
	target := int64(w.reader.cacheSizeInSeconds) * 1000
	for w.audioCache.Len() > 0 {
		front, _ := w.audioCache.At(0)
		if streamTime-w.reader.realTime(w.reader.audioStreamIndex, front.Pts()) <= target {
			break
		}
		w.audioCache.EraseFront(1)
	}
}

// close flushes buffered bytes, writes the trailer and releases the output.
func (w *Writer) close() {
	if w.fmtCtx == nil {
		return
	}
	if err := w.fmtCtx.WriteTrailer(); err != nil {
		log.Printf("[%s] writer close error: %v", w.reader.uri, err)
	}
	w.freeOutput()
	log.Printf("[%s] recording stopped -> %s", w.reader.uri, w.filename)
}

func (w *Writer) free() {
	w.close()
	w.videoCache.Clear()
	w.audioCache.Clear()
}
