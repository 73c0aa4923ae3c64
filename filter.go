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

	astiav "github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// Filter runs frames through a filter graph built from a user-supplied
// description, or an identity pass-through when the description is empty.
// The graph input is configured from the decoder's output parameters.
type Filter struct {
	decoder     *Decoder
	description string
	input       *FrameQueue
	output      *FrameQueue

	graph   *astiav.FilterGraph
	srcCtx  *astiav.BuffersrcFilterContext
	sinkCtx *astiav.BuffersinkFilterContext
	frame   *astiav.Frame

	closer *astikit.Closer
}

func newFilter(decoder *Decoder, description string, input, output *FrameQueue) (*Filter, error) {
	f := &Filter{
		decoder:     decoder,
		description: description,
		input:       input,
		output:      output,
		closer:      astikit.NewCloser(),
	}

	srcName, sinkName, identity := "buffer", "buffersink", "null"
	if decoder.mediaType == astiav.MediaTypeAudio {
		srcName, sinkName, identity = "abuffer", "abuffersink", "anull"
	}
	bufSrc := astiav.FindFilterByName(srcName)
	bufSink := astiav.FindFilterByName(sinkName)
	if bufSrc == nil || bufSink == nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s filter allocation failure", decoder.mediaType)
	}

	f.graph = astiav.AllocFilterGraph()
	if f.graph == nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s filter graph allocation failure", decoder.mediaType)
	}
	f.closer.Add(f.graph.Free)

	var err error
	if f.srcCtx, err = f.graph.NewBuffersrcFilterContext(bufSrc, "in"); err != nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s buffer source: %w", decoder.mediaType, err)
	}
	if err = f.configureSource(); err != nil {
		f.closer.Close()
		return nil, err
	}
	if f.sinkCtx, err = f.graph.NewBuffersinkFilterContext(bufSink, "out"); err != nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s buffer sink: %w", decoder.mediaType, err)
	}

	// The graph output feeds the sink and the graph input drains the source,
	// hence the crossed naming.
	inputs := astiav.AllocFilterInOut()
	defer inputs.Free()
	inputs.SetName("out")
	inputs.SetFilterContext(f.sinkCtx.FilterContext())
	inputs.SetPadIdx(0)
	outputs := astiav.AllocFilterInOut()
	defer outputs.Free()
	outputs.SetName("in")
	outputs.SetFilterContext(f.srcCtx.FilterContext())
	outputs.SetPadIdx(0)

	content := description
	if content == "" {
		content = identity
	}
	if err = f.graph.Parse(content, inputs, outputs); err != nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s filter parse %q: %w", decoder.mediaType, content, err)
	}
	if err = f.graph.Configure(); err != nil {
		f.closer.Close()
		return nil, fmt.Errorf("avio: %s filter configure: %w", decoder.mediaType, err)
	}

	f.frame = astiav.AllocFrame()
	f.closer.Add(f.frame.Free)
	return f, nil
}

// configureSource derives the buffer source parameters from the decoder's
// output, per media type.
func (f *Filter) configureSource() error {
	d := f.decoder
	stream := d.reader.fmtCtx.Streams()[d.streamIndex]

	p := astiav.AllocBuffersrcFilterContextParameters()
	defer p.Free()
	switch d.mediaType {
	case astiav.MediaTypeVideo:
		p.SetWidth(d.codecCtx.Width())
		p.SetHeight(d.codecCtx.Height())
		p.SetPixelFormat(d.codecCtx.PixelFormat())
		p.SetTimeBase(stream.TimeBase())
		p.SetSampleAspectRatio(d.codecCtx.SampleAspectRatio())
	case astiav.MediaTypeAudio:
		cl := d.codecCtx.ChannelLayout()
		if !cl.Valid() {
			cl = astiav.ChannelLayoutStereo
			if d.codecCtx.ChannelLayout().Channels() == 1 {
				cl = astiav.ChannelLayoutMono
			}
		}
		p.SetChannelLayout(cl)
		p.SetSampleFormat(d.codecCtx.SampleFormat())
		p.SetSampleRate(d.codecCtx.SampleRate())
		p.SetTimeBase(stream.TimeBase())
	default:
		return fmt.Errorf("avio: filter input config: unknown media type %s", d.mediaType)
	}
	if err := f.srcCtx.SetParameters(p); err != nil {
		return fmt.Errorf("avio: %s buffer source parameters: %w", d.mediaType, err)
	}
	if err := f.srcCtx.Initialize(nil); err != nil {
		return fmt.Errorf("avio: %s buffer source init: %w", d.mediaType, err)
	}
	return nil
}

func (f *Filter) free() {
	f.closer.Close()
}

// filter processes one frame from the input queue. Returns false once the
// end-of-stream sentinel has been forwarded.
func (f *Filter) filter() bool {
	in := f.input.Pop()

	if f.decoder.reader.terminated.Load() {
		if in != nil {
			in.Free()
		}
		f.output.Clear()
		f.output.Push(nil)
		return false
	}

	if in == nil {
		f.output.Push(nil)
		return false
	}

	if f.decoder.reader.seekPts.Load() != NoPts {
		in.Free()
		return true
	}

	if err := f.srcCtx.AddFrame(in, astiav.NewBuffersrcFlags(astiav.BuffersrcFlagKeepRef)); err != nil {
		log.Printf("[%s] %s filter error: %v", f.decoder.reader.uri, f.decoder.mediaType, err)
		in.Free()
		return true
	}
	for {
		err := f.sinkCtx.GetFrame(f.frame, astiav.NewBuffersinkFlags())
		if err != nil {
			if !errors.Is(err, astiav.ErrEagain) && !errors.Is(err, astiav.ErrEof) {
				log.Printf("[%s] %s filter error: %v", f.decoder.reader.uri, f.decoder.mediaType, err)
			}
			break
		}
		if out, err := refFrame(f.frame); err == nil {
			f.output.Push(out)
		}
		f.frame.Unref()
	}
	in.Free()
	return true
}
