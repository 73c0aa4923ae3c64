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
	"bytes"
	"errors"
	"fmt"
	"log"

	astiav "github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// flushPayload requests a codec flush when carried by a packet without pts.
var flushPayload = []byte("FLUSH")

// Decoder turns packets from one queue into frames on another. When
// writerPkts is attached, every consumed packet is re-emitted there after
// decoding (post-decode recording). With a hardware device type set, frames
// surface in the device format and are transferred to system memory before
// being pushed.
type Decoder struct {
	reader      *Reader
	mediaType   astiav.MediaType
	streamIndex int

	codec    *astiav.Codec
	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	swFrame  *astiav.Frame
	hwPixFmt astiav.PixelFormat
	hwCtx    *astiav.HardwareDeviceContext

	pkts       *PacketQueue
	frames     *FrameQueue
	writerPkts *PacketQueue

	closer *astikit.Closer
}

func newDecoder(reader *Reader, mediaType astiav.MediaType, pkts *PacketQueue, frames *FrameQueue, hwTypeName string) (*Decoder, error) {
	d := &Decoder{
		reader:    reader,
		mediaType: mediaType,
		pkts:      pkts,
		frames:    frames,
		hwPixFmt:  astiav.PixelFormatNone,
		closer:    astikit.NewCloser(),
	}

	switch mediaType {
	case astiav.MediaTypeVideo:
		d.streamIndex = reader.videoStreamIndex
	case astiav.MediaTypeAudio:
		d.streamIndex = reader.audioStreamIndex
	default:
		return nil, fmt.Errorf("avio: unsupported media type %s", mediaType)
	}
	if d.streamIndex < 0 {
		return nil, fmt.Errorf("avio: no %s stream", mediaType)
	}
	stream := reader.fmtCtx.Streams()[d.streamIndex]

	d.codec = astiav.FindDecoder(stream.CodecParameters().CodecID())
	if d.codec == nil {
		return nil, fmt.Errorf("avio: no %s decoder for stream", mediaType)
	}

	var hwType astiav.HardwareDeviceType
	if hwTypeName != "" {
		hwType = astiav.FindHardwareDeviceTypeByName(hwTypeName)
		if hwType == astiav.HardwareDeviceTypeNone {
			d.closer.Close()
			return nil, fmt.Errorf("avio: unknown hardware device type %q", hwTypeName)
		}
		found := false
		for _, cfg := range d.codec.HardwareConfigs() {
			if cfg.MethodFlags().Has(astiav.CodecHardwareConfigMethodFlagHwDeviceCtx) && cfg.HardwareDeviceType() == hwType {
				d.hwPixFmt = cfg.PixelFormat()
				found = true
				break
			}
		}
		if !found {
			d.closer.Close()
			return nil, fmt.Errorf("avio: %s decoder %s does not support device type %s", mediaType, d.codec.Name(), hwTypeName)
		}
	}

	d.codecCtx = astiav.AllocCodecContext(d.codec)
	if d.codecCtx == nil {
		d.closer.Close()
		return nil, fmt.Errorf("avio: alloc %s codec context failed", mediaType)
	}
	d.closer.Add(d.codecCtx.Free)

	if err := stream.CodecParameters().ToCodecContext(d.codecCtx); err != nil {
		d.closer.Close()
		return nil, fmt.Errorf("avio: %s codec parameters: %w", mediaType, err)
	}

	if hwTypeName != "" {
		hwPixFmt := d.hwPixFmt
		d.codecCtx.SetPixelFormatCallback(func(pfs []astiav.PixelFormat) astiav.PixelFormat {
			for _, pf := range pfs {
				if pf == hwPixFmt {
					return pf
				}
			}
			log.Printf("[%s] failed to get hardware surface format", reader.uri)
			return astiav.PixelFormatNone
		})
		hwCtx, err := astiav.CreateHardwareDeviceContext(hwType, "", nil, 0)
		if err != nil {
			d.closer.Close()
			return nil, fmt.Errorf("avio: hardware decoder initialization error: %w", err)
		}
		d.hwCtx = hwCtx
		d.closer.Add(d.hwCtx.Free)
		d.codecCtx.SetHardwareDeviceContext(d.hwCtx)
		d.swFrame = astiav.AllocFrame()
		d.closer.Add(d.swFrame.Free)
	}

	if err := d.codecCtx.Open(d.codec, nil); err != nil {
		d.closer.Close()
		return nil, fmt.Errorf("avio: open %s decoder: %w", mediaType, err)
	}

	d.frame = astiav.AllocFrame()
	d.closer.Add(d.frame.Free)
	return d, nil
}

func (d *Decoder) free() {
	d.closer.Close()
}

// decode handles one input packet. It returns false once the end-of-stream
// sentinel has been propagated downstream.
func (d *Decoder) decode() bool {
	pkt := d.pkts.Pop()

	if d.reader.terminated.Load() {
		if pkt != nil {
			pkt.Free()
		}
		d.frames.Clear()
		d.frames.Push(nil)
		if d.writerPkts != nil {
			d.writerPkts.Push(nil)
		}
		return false
	}

	if pkt != nil && pkt.Pts() == NoPts && bytes.Equal(pkt.Data(), flushPayload) {
		d.codecCtx.FlushBuffers()
		pkt.Free()
		return true
	}

	if d.reader.seekPts.Load() != NoPts {
		if pkt != nil {
			pkt.Free()
		}
		return true
	}

	d.run(pkt)

	if pkt == nil {
		d.frames.Push(nil)
		if d.writerPkts != nil {
			d.writerPkts.Push(nil)
		}
		return false
	}

	if d.writerPkts != nil {
		d.writerPkts.Push(pkt)
	} else {
		pkt.Free()
	}
	return true
}

// run sends one packet and drains all resulting frames. Errors other than
// EAGAIN/EOF are logged and the pipeline continues.
func (d *Decoder) run(pkt *astiav.Packet) {
	if err := d.codecCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
		log.Printf("[%s] %s decode error: %v", d.reader.uri, d.mediaType, err)
		return
	}
	for {
		err := d.codecCtx.ReceiveFrame(d.frame)
		if err != nil {
			if !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
				log.Printf("[%s] %s decode error: %v", d.reader.uri, d.mediaType, err)
			}
			return
		}
		d.pushFrame()
		d.frame.Unref()
	}
}

func (d *Decoder) pushFrame() {
	src := d.frame
	if d.hwPixFmt != astiav.PixelFormatNone && d.frame.PixelFormat() == d.hwPixFmt {
		if err := d.frame.TransferHardwareData(d.swFrame); err != nil {
			log.Printf("[%s] hardware frame transfer error: %v", d.reader.uri, err)
			return
		}
		d.swFrame.SetPts(d.frame.Pts())
		src = d.swFrame
	}
	f, err := refFrame(src)
	if err != nil {
		log.Printf("[%s] %s frame ref error: %v", d.reader.uri, d.mediaType, err)
		return
	}
	d.frames.Push(f)
	if src == d.swFrame {
		d.swFrame.Unref()
	}
}
