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

// avioplay is a minimal windowed player for the avio pipeline: one media
// URI, one window, keyboard control, recording hotkey with pre-roll.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	astiav "github.com/asticode/go-astiav"
	"github.com/mappu/miqt/qt"

	"avio"
)

type playerWindow struct {
	win      *qt.QMainWindow
	view     *VideoWidget
	buf      frameBuf
	renderer *widgetRenderer
	events   keyEvents
	player   *avio.Player
	cfg      AppConfig
	closing  bool
	progress atomic.Uint64
}

var window *playerWindow

func main() {
	cfgPath := flag.String("config", configPath(), "configuration file")
	uri := flag.String("url", "", "media URI (file path or rtsp/http stream)")
	live := flag.Bool("live", false, "treat the URI as a live stream")
	headless := flag.Bool("headless", false, "no window, frames go to callbacks only")
	hw := flag.String("hw", "", "hardware device type (vaapi, cuda, ...)")
	vf := flag.String("vf", "", "video filter description")
	af := flag.String("af", "", "audio filter description")
	mute := flag.Bool("mute", false, "start muted")
	debugStreams := flag.Bool("debugstreams", false, "log ffmpeg internals")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *uri != "" {
		cfg.URI = *uri
	}
	if cfg.URI == "" && flag.NArg() > 0 {
		cfg.URI = flag.Arg(0)
	}
	if cfg.URI == "" {
		fmt.Fprintln(os.Stderr, "usage: avioplay [flags] <uri>")
		os.Exit(2)
	}
	if *headless {
		cfg.Headless = true
	}
	if *hw != "" {
		cfg.HWDevice = *hw
	}
	if *vf != "" {
		cfg.VideoFilter = *vf
	}
	if *af != "" {
		cfg.AudioFilter = *af
	}
	if *mute {
		cfg.Mute = true
	}
	if *live {
		cfg.Live = boolPtr(true)
	}

	if *debugStreams {
		avio.SetLogLevel(astiav.LogLevelDebug)
		avio.BridgeFFmpegLogs()
	}

	qt.NewQApplication(os.Args)

	w := newPlayerWindow(cfg)
	window = w
	w.startPlayer()

	go handleSleep()

	code := qt.QApplication_Exec()
	w.shutdown()
	os.Exit(code)
}

func boolPtr(b bool) *bool { return &b }

func newPlayerWindow(cfg AppConfig) *playerWindow {
	w := &playerWindow{cfg: cfg}
	w.renderer = &widgetRenderer{buf: &w.buf}

	if cfg.Headless {
		return w
	}

	win := qt.NewQMainWindow(nil)
	win.SetWindowTitle(fmt.Sprintf("avioplay: %s", sanitizeTitle(cfg.URI)))
	width, height := cfg.Width, cfg.Height
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	win.Resize(width, height)

	view := NewVideoWidget(&w.buf, nil, cfg.Stretch)
	win.SetCentralWidget(view.QWidget)

	win.OnKeyPressEvent(func(super func(event *qt.QKeyEvent), ev *qt.QKeyEvent) {
		switch ev.Key() {
		case int(qt.Key_Escape):
			w.events.push(avio.EventQuit)
		case int(qt.Key_R):
			w.toggleRecording()
		case int(qt.Key_Space):
			w.events.push(avio.EventTogglePause)
		case int(qt.Key_Left):
			w.events.push(avio.EventSeekBack)
		case int(qt.Key_Right):
			w.events.push(avio.EventSeekForward)
		default:
			super(ev)
			return
		}
		ev.Accept()
	})

	win.OnCloseEvent(func(super func(event *qt.QCloseEvent), event *qt.QCloseEvent) {
		super(event)
		w.events.push(avio.EventQuit)
	})

	// repaint on the GUI thread at ~30 FPS; the title doubles as a crude
	// progress display for files
	t := qt.NewQTimer2(win.QObject)
	t.SetInterval(33)
	t.OnTimeout(func() {
		if w.view != nil {
			w.view.Present()
		}
		if pct := math.Float64frombits(w.progress.Load()); pct > 0 {
			win.SetWindowTitle(fmt.Sprintf("avioplay: %s (%.1f%%)", sanitizeTitle(w.cfg.URI), 100*pct))
		}
	})
	t.Start2()

	w.win = win
	w.view = view
	win.Show()
	win.Raise()
	win.ActivateWindow()
	return w
}

// startPlayer builds a Player from the configuration and runs it detached.
func (w *playerWindow) startPlayer() {
	p := avio.NewPlayer(w.cfg.URI)
	p.LiveStream = p.IsCameraStream()
	if w.cfg.Live != nil {
		p.LiveStream = *w.cfg.Live
	}
	p.Headless = w.cfg.Headless
	p.Hidden = w.cfg.Hidden
	p.DisableVideo = w.cfg.DisableVideo
	p.DisableAudio = w.cfg.DisableAudio
	p.HWDeviceType = w.cfg.HWDevice
	p.VideoFilter = w.cfg.VideoFilter
	p.AudioFilter = w.cfg.AudioFilter
	p.BufferSizeInSeconds = w.cfg.BufferSeconds
	p.Volume = w.cfg.Volume
	p.Mute = w.cfg.Mute
	if !w.cfg.Headless {
		p.Renderer = w.renderer
		p.Events = &w.events
	}

	p.ProgressCallback = func(pct float64, uri string) {
		w.progress.Store(math.Float64bits(pct))
	}
	p.InfoCallback = func(msg, uri string) {
		log.Printf("[%s] %s", uri, msg)
	}
	p.ErrorCallback = func(msg, uri string, reconnect bool) {
		log.Printf("[%s] error: %s (reconnect=%v)", uri, msg, reconnect)
	}
	p.PacketDrop = func(uri string) {
		log.Printf("[%s] video packet dropped", uri)
	}
	p.MediaPlayingStarted = func(uri string) {
		log.Printf("[%s] playing", uri)
	}
	p.MediaPlayingStopped = func(uri string) {
		log.Printf("[%s] stopped", uri)
		if !w.closing {
			qt.QCoreApplication_Quit()
		}
	}

	w.player = p
	p.Start()
}

// toggleRecording is bound to the R key. A fresh timestamped base name is
// chosen on every start; the writer appends the container extension.
func (w *playerWindow) toggleRecording() {
	if w.player == nil {
		return
	}
	if w.player.IsRecording() {
		w.player.ToggleRecording("")
		return
	}
	name, err := recordingFilePath(w.cfg, time.Now())
	if err != nil {
		log.Printf("recording: cannot build path: %v", err)
		return
	}
	w.player.ToggleRecording(name)
}

func (w *playerWindow) shutdown() {
	w.closing = true
	if w.player != nil {
		w.player.Terminate()
	}
	if w.renderer != nil {
		w.renderer.close()
	}
}

// restart tears the current pipeline down and starts a fresh one, used after
// a system wake.
func (w *playerWindow) restart(reason string) {
	log.Printf("[%s] restarting player (%s)", w.cfg.URI, reason)
	if w.player != nil {
		w.player.Terminate()
	}
	time.Sleep(350 * time.Millisecond)
	w.startPlayer()
}
