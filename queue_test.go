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
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/stretchr/testify/require"
)

func TestQueuePushPopOrder(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 4; i++ {
		q.Push(i)
	}
	for i := 1; i <= 4; i++ {
		require.Equal(t, i, q.Pop())
	}
	require.True(t, q.Empty())
}

func TestQueueZeroCapacityPanics(t *testing.T) {
	require.Panics(t, func() { NewQueue[int](0) })
}

func TestQueueUnboundedGrowth(t *testing.T) {
	q := NewQueue[int](-1)
	for i := 0; i < 10_000; i++ {
		q.Push(i)
	}
	require.Equal(t, 10_000, q.Len())
	require.False(t, q.Full())
}

func TestQueuePushBlocksWhileFullAndClearWakes(t *testing.T) {
	q := NewQueue[int](1)
	q.Push(1)

	pushed := make(chan struct{})
	go func() {
		q.Push(2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("push should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	q.Clear()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push should proceed after clear")
	}
	require.Equal(t, 2, q.Pop())
}

func TestQueuePopAfterClearBlocksUntilPush(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Clear()

	popped := make(chan int, 1)
	go func() { popped <- q.Pop() }()

	select {
	case <-popped:
		t.Fatal("pop should block on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(7)
	select {
	case v := <-popped:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("pop should return after push")
	}
}

func TestQueueRemoveLatency(t *testing.T) {
	q := NewQueue[int](-1)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.RemoveLatency()
	require.Equal(t, 1, q.Len())

	// idempotent once only one element remains
	q.RemoveLatency()
	require.Equal(t, 1, q.Len())
	require.Equal(t, 4, q.Pop())
}

func TestQueueEraseFront(t *testing.T) {
	q := NewQueue[int](-1)
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	q.EraseFront(2)
	require.Equal(t, 3, q.Len())
	require.Equal(t, 2, q.Pop())

	q.EraseFront(100)
	require.True(t, q.Empty())
}

func TestQueueEvictHook(t *testing.T) {
	evicted := 0
	q := NewQueueEvict[int](-1, func(int) { evicted++ })
	for i := 0; i < 6; i++ {
		q.Push(i)
	}
	q.EraseFront(2)
	require.Equal(t, 2, evicted)
	q.RemoveLatency()
	require.Equal(t, 5, evicted)
	q.Clear()
	require.Equal(t, 6, evicted)

	// popped elements are handed to the consumer, never evicted
	q.Push(1)
	q.Pop()
	require.Equal(t, 6, evicted)
}

func TestQueueAtAndPeek(t *testing.T) {
	q := NewQueue[string](-1)
	_, ok := q.Peek()
	require.False(t, ok)

	q.Push("a")
	q.Push("b")
	v, ok := q.Peek()
	require.True(t, ok)
	require.Equal(t, "a", v)

	v, ok = q.At(1)
	require.True(t, ok)
	require.Equal(t, "b", v)

	_, ok = q.At(2)
	require.False(t, ok)
}

func testPacket(t *testing.T, stream int, pts int64, key bool, duration int64) *astiav.Packet {
	t.Helper()
	p := astiav.AllocPacket()
	require.NotNil(t, p)
	p.SetStreamIndex(stream)
	p.SetPts(pts)
	p.SetDts(pts)
	p.SetDuration(duration)
	if key {
		p.SetFlags(astiav.NewPacketFlags(astiav.PacketFlagKey))
	}
	return p
}

func TestPacketQueueScans(t *testing.T) {
	q := NewPacketQueue(-1)
	defer q.Clear()

	// key frames at 0 and 3000, deltas in between
	for i, pts := range []int64{0, 1000, 2000, 3000, 4000} {
		key := i == 0 || i == 3
		q.Push(testPacket(t, 0, pts, key, 1000))
	}

	require.Equal(t, 2, q.FindPts(1500))
	require.Equal(t, 0, q.FindPts(0))
	require.Equal(t, -1, q.FindPts(9000))

	require.Equal(t, 3, q.FindLastKeyFrame(4))
	require.Equal(t, 0, q.FindLastKeyFrame(2))
	require.Equal(t, 3, q.FindFirstKeyFrame(1))
	require.Equal(t, -1, q.FindFirstKeyFrame(4))
}
