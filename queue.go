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
	"sync"

	astiav "github.com/asticode/go-astiav"
)

// Queue is a bounded FIFO between pipeline stages, drained by one consumer
// stage; the writer queue is fed by several producers (both decoders), the
// other queues by one. Push blocks while the queue is full, Pop blocks while it is
// empty; Clear wakes blocked pushers. A negative max size makes the queue
// unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []T
	maxSize  int
	onEvict  func(T)
}

func NewQueue[T any](maxSize int) *Queue[T] {
	return NewQueueEvict[T](maxSize, nil)
}

// NewQueueEvict creates a queue whose onEvict hook runs for every element
// dropped by Clear, EraseFront or RemoveLatency. Elements carrying codec
// buffers use it to release them, so a dropped element never leaks.
func NewQueueEvict[T any](maxSize int, onEvict func(T)) *Queue[T] {
	if maxSize == 0 {
		panic("avio: queue size cannot be 0")
	}
	q := &Queue[T]{maxSize: maxSize, onEvict: onEvict}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *Queue[T]) isFull() bool {
	return q.maxSize > 0 && len(q.items) >= q.maxSize
}

func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	for q.isFull() {
		q.notFull.Wait()
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.mu.Unlock()
	q.notFull.Signal()
	return item
}

func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

func (q *Queue[T]) At(index int) (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[index], true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Empty() bool { return q.Len() == 0 }

func (q *Queue[T]) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isFull()
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	evicted := q.items
	q.items = nil
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.evict(evicted)
}

// EraseFront removes the n oldest elements.
func (q *Queue[T]) EraseFront(n int) {
	q.mu.Lock()
	if n > len(q.items) {
		n = len(q.items)
	}
	evicted := q.items[:n]
	q.items = q.items[n:]
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.evict(evicted)
}

// RemoveLatency drops every element except the newest one.
func (q *Queue[T]) RemoveLatency() {
	q.mu.Lock()
	var evicted []T
	if n := len(q.items); n > 1 {
		evicted = q.items[:n-1]
		q.items = q.items[n-1:]
	}
	q.mu.Unlock()
	if evicted != nil {
		q.notFull.Broadcast()
		q.evict(evicted)
	}
}

func (q *Queue[T]) evict(items []T) {
	if q.onEvict == nil {
		return
	}
	for _, item := range items {
		q.onEvict(item)
	}
}

// FrameQueue carries decoded or filtered frames. A nil frame is the
// end-of-stream sentinel.
type FrameQueue = Queue[*astiav.Frame]

func NewFrameQueue(maxSize int) *FrameQueue {
	return NewQueueEvict[*astiav.Frame](maxSize, func(f *astiav.Frame) {
		if f != nil {
			f.Free()
		}
	})
}

// PacketQueue carries compressed packets, nil being the end-of-stream
// sentinel, and adds the pts and key-frame scans used by the writer cache.
type PacketQueue struct {
	*Queue[*astiav.Packet]
}

func NewPacketQueue(maxSize int) *PacketQueue {
	return &PacketQueue{NewQueueEvict[*astiav.Packet](maxSize, func(p *astiav.Packet) {
		if p != nil {
			p.Free()
		}
	})}
}

// FindPts returns the first index whose packet pts is >= pts, or -1.
func (q *PacketQueue) FindPts(pts int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.items {
		if p != nil && p.Pts() >= pts {
			return i
		}
	}
	return -1
}

// FindLastKeyFrame scans backward from the starting index for a key frame
// and returns its index, or -1.
func (q *PacketQueue) FindLastKeyFrame(from int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from >= len(q.items) {
		from = len(q.items) - 1
	}
	for i := from; i >= 0; i-- {
		if p := q.items[i]; p != nil && p.Flags().Has(astiav.PacketFlagKey) {
			return i
		}
	}
	return -1
}

// FindFirstKeyFrame scans forward from the starting index for a key frame
// and returns its index, or -1.
func (q *PacketQueue) FindFirstKeyFrame(from int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if from < 0 {
		from = 0
	}
	for i := from; i < len(q.items); i++ {
		if p := q.items[i]; p != nil && p.Flags().Has(astiav.PacketFlagKey) {
			return i
		}
	}
	return -1
}
