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

// cacheReader builds a reader skeleton with millisecond time bases so pts
// values read directly as milliseconds in cache tests.
func cacheReader(hasVideo, hasAudio bool, cacheSeconds int) *Reader {
	r := &Reader{
		videoStreamIndex:   -1,
		audioStreamIndex:   -1,
		clocks:             map[int]*streamClock{},
		cacheSizeInSeconds: cacheSeconds,
	}
	if hasVideo {
		r.videoStreamIndex = 0
		r.clocks[0] = newStreamClock(astiav.NewRational(1, 1000))
	}
	if hasAudio {
		r.audioStreamIndex = 1
		r.clocks[1] = newStreamClock(astiav.NewRational(1, 1000))
	}
	return r
}

func requireKeyFrameHead(t *testing.T, w *Writer) {
	t.Helper()
	if w.videoCache.Len() == 0 {
		return
	}
	head, ok := w.videoCache.At(0)
	require.True(t, ok)
	require.True(t, head.Flags().Has(astiav.PacketFlagKey),
		"video cache head must be a key frame")
}

func TestWriterCacheTrimKeepsPreRollSpan(t *testing.T) {
	r := cacheReader(true, false, 5)
	w := newWriter(r)
	defer w.free()

	// 10 fps video with a key frame every second
	var pts int64
	for pts = 0; pts <= 20_000; pts += 100 {
		w.pushCachePkt(testPacket(t, 0, pts, pts%1000 == 0, 100))
		requireKeyFrameHead(t, w)
	}

	head, ok := w.videoCache.At(0)
	require.True(t, ok)
	span := pts - 100 - head.Pts()
	require.GreaterOrEqual(t, span, int64(5000), "cache must cover the pre-roll target")
	require.Less(t, span, int64(7000), "cache must not grow far past the target")
}

func TestWriterCacheZeroSecondsKeepsLastKeyFrameGroup(t *testing.T) {
	r := cacheReader(true, false, 0)
	w := newWriter(r)
	defer w.free()

	for pts := int64(0); pts <= 5000; pts += 100 {
		w.pushCachePkt(testPacket(t, 0, pts, pts%1000 == 0, 100))
	}

	requireKeyFrameHead(t, w)
	head, ok := w.videoCache.At(0)
	require.True(t, ok)
	require.Equal(t, int64(4000), head.Pts(), "only the newest closed key frame group survives")
	require.Equal(t, 11, w.videoCache.Len())
}

func TestWriterCacheAlignsAudio(t *testing.T) {
	r := cacheReader(true, true, 2)
	w := newWriter(r)
	defer w.free()

	for pts := int64(0); pts <= 10_000; pts += 50 {
		if pts%100 == 0 {
			w.pushCachePkt(testPacket(t, 0, pts, pts%1000 == 0, 100))
		}
		w.pushCachePkt(testPacket(t, 1, pts, false, 50))
	}

	requireKeyFrameHead(t, w)
	videoHead, ok := w.videoCache.At(0)
	require.True(t, ok)
	audioHead, ok := w.audioCache.At(0)
	require.True(t, ok)
	require.GreaterOrEqual(t, audioHead.Pts(), videoHead.Pts(),
		"audio cache must not precede the retained key frame")
}

func TestWriterAudioOnlyCacheTrimsByTime(t *testing.T) {
	r := cacheReader(false, true, 3)
	w := newWriter(r)
	defer w.free()

	for pts := int64(0); pts <= 20_000; pts += 20 {
		w.pushCachePkt(testPacket(t, 1, pts, false, 20))
	}

	head, ok := w.audioCache.At(0)
	require.True(t, ok)
	require.GreaterOrEqual(t, head.Pts(), int64(20_000-3000-20))
}

func TestWriterRenumber(t *testing.T) {
	var next int64

	p := testPacket(t, 0, 5_000, true, 33)
	defer p.Free()
	renumber(p, &next)
	require.Equal(t, int64(0), p.Pts())
	require.Equal(t, int64(0), p.Dts())
	require.Equal(t, int64(33), next)

	q := testPacket(t, 0, 5_033, false, 33)
	defer q.Free()
	renumber(q, &next)
	require.Equal(t, int64(33), q.Pts())
	require.Equal(t, int64(66), next)

	// zero-duration packets advance by zero and stay well-formed
	z := testPacket(t, 0, 5_066, false, 0)
	defer z.Free()
	renumber(z, &next)
	require.Equal(t, int64(66), z.Pts())
	require.Equal(t, int64(66), next)
}

func TestWriterCacheDropsForeignStreams(t *testing.T) {
	r := cacheReader(true, true, 5)
	w := newWriter(r)
	defer w.free()

	w.pushCachePkt(testPacket(t, 7, 0, true, 10))
	require.Equal(t, 0, w.videoCache.Len())
	require.Equal(t, 0, w.audioCache.Len())
}
