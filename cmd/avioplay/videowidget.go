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
package main

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	astiav "github.com/asticode/go-astiav"
	"github.com/mappu/miqt/qt"

	"avio"
)

//
// Small, threadsafe BGRA frame buffer. The widget reads the latest frame
// from here on the GUI thread; frames are stored tightly packed (w*4).
//

type frameBuf struct {
	mu  sync.RWMutex
	seq uint64
	w   int
	h   int
	b   []byte
}

func (f *frameBuf) put(w, h int, src []byte) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := w * h * 4
	if cap(f.b) < n {
		f.b = make([]byte, n)
	} else {
		f.b = f.b[:n]
	}
	copy(f.b, src)

	f.w = w
	f.h = h
	return atomic.AddUint64(&f.seq, 1)
}

// get returns (seq, w, h, data). If seq==0 there is no frame yet.
func (f *frameBuf) get() (uint64, int, int, []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return atomic.LoadUint64(&f.seq), f.w, f.h, f.b
}

//
// Universal BGRA converter. Filtered frames always run through the software
// scaler so the widget never touches planar data directly.
//

type bgraScaler struct {
	ssc        *astiav.SoftwareScaleContext
	dst        *astiav.Frame
	srcW, srcH int
	srcPix     astiav.PixelFormat
	dstW, dstH int
}

func (s *bgraScaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *bgraScaler) ensure(src *astiav.Frame) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()

	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}

	s.close()

	flags := astiav.NewSoftwareScaleContextFlags()
	ssc, err := astiav.CreateSoftwareScaleContext(sw, sh, sp, sw, sh, astiav.PixelFormatBgra, flags)
	if err != nil {
		return fmt.Errorf("CreateSoftwareScaleContext(%dx%d %s -> BGRA): %w", sw, sh, sp, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(sw)
	dst.SetHeight(sh)
	dst.SetPixelFormat(astiav.PixelFormatBgra)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("dst.AllocBuffer: %w", err)
	}

	s.ssc = ssc
	s.dst = dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp
	s.dstW, s.dstH = sw, sh
	return nil
}

// toBGRA converts a frame into a tightly packed BGRA slice.
func (s *bgraScaler) toBGRA(src *astiav.Frame) (int, int, []byte, error) {
	if err := s.ensure(src); err != nil {
		return 0, 0, nil, err
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return 0, 0, nil, fmt.Errorf("ScaleFrame: %w", err)
	}
	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("ImageBufferSize: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("ImageCopyToBuffer: %w", err)
	}
	return s.dstW, s.dstH, out, nil
}

// widgetRenderer feeds the frame buffer from the pipeline's display stage.
// Present runs on the display goroutine; the Qt repaint timer picks the
// frame up on the GUI thread.
type widgetRenderer struct {
	buf    *frameBuf
	scaler bgraScaler
}

func (r *widgetRenderer) Present(f *astiav.Frame) error {
	w, h, bgra, err := r.scaler.toBGRA(f)
	if err != nil {
		return err
	}
	r.buf.put(w, h, bgra)
	return nil
}

func (r *widgetRenderer) close() { r.scaler.close() }

// keyEvents collects key presses from the GUI thread for the display loop
// to poll.
type keyEvents struct {
	mu      sync.Mutex
	pending []avio.Event
}

func (k *keyEvents) push(ev avio.Event) {
	k.mu.Lock()
	k.pending = append(k.pending, ev)
	k.mu.Unlock()
}

func (k *keyEvents) Poll() []avio.Event {
	k.mu.Lock()
	defer k.mu.Unlock()
	evs := k.pending
	k.pending = nil
	return evs
}

// VideoWidget repaints from the shared frameBuf.
type VideoWidget struct {
	*qt.QWidget
	buf     *frameBuf
	Stretch bool
}

func NewVideoWidget(buf *frameBuf, parent *qt.QWidget, stretch bool) *VideoWidget {
	w := &VideoWidget{
		QWidget: qt.NewQWidget(parent),
		buf:     buf,
		Stretch: stretch,
	}
	w.SetAttribute2(qt.WA_OpaquePaintEvent, true)
	w.SetAutoFillBackground(false)
	w.SetMinimumSize2(32, 32)

	w.OnPaintEvent(func(super func(event *qt.QPaintEvent), event *qt.QPaintEvent) {
		p := qt.NewQPainter2(w.QPaintDevice)
		defer p.End()
		p.FillRect6(w.Rect(), qt.NewQColor11(0, 0, 0, 255))

		seq, srcW, srcH, data := w.buf.get()
		if seq == 0 || srcW <= 0 || srcH <= 0 || len(data) < srcW*srcH*4 {
			return
		}

		// Format_RGB32 is 4 bytes/pixel, BGRA layout on little-endian.
		img := qt.NewQImage3(srcW, srcH, qt.QImage__Format_RGB32)
		defer img.Delete()
		bits := img.Bits()
		dst := unsafe.Slice((*byte)(bits), srcW*srcH*4)
		copy(dst, data[:srcW*srcH*4])

		dstW, dstH := w.Width(), w.Height()
		if dstW <= 0 || dstH <= 0 {
			return
		}

		var dest *qt.QRect
		if w.Stretch {
			dest = qt.NewQRect4(0, 0, dstW, dstH)
		} else {
			// keep aspect (letterbox/pillarbox)
			sx := float64(dstW) / float64(srcW)
			sy := float64(dstH) / float64(srcH)
			s := sx
			if sy < s {
				s = sy
			}
			outW := int(float64(srcW)*s + 0.5)
			outH := int(float64(srcH)*s + 0.5)
			offX := (dstW - outW) / 2
			offY := (dstH - outH) / 2
			dest = qt.NewQRect4(offX, offY, outW, outH)
		}

		srcRect := qt.NewQRect4(0, 0, srcW, srcH)
		p.SetRenderHint2(qt.QPainter__SmoothPixmapTransform, true)
		p.DrawImage2(dest, img, srcRect)
	})

	return w
}

// Present asks for a repaint; safe to call from the GUI thread only.
func (w *VideoWidget) Present() {
	w.Update()
}
