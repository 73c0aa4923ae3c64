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
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const appName = "avioplay"

// AppConfig is the player configuration, loaded from
// ~/.config/avioplay/config.yml and overridable from the command line.
type AppConfig struct {
	URI           string `yaml:"uri"`
	Live          *bool  `yaml:"live,omitempty"` // default: inferred from the URI scheme
	Headless      bool   `yaml:"headless,omitempty"`
	Hidden        bool   `yaml:"hidden,omitempty"`
	DisableVideo  bool   `yaml:"disable_video,omitempty"`
	DisableAudio  bool   `yaml:"disable_audio,omitempty"`
	HWDevice      string `yaml:"hw_device,omitempty"` // e.g. "vaapi", "cuda"
	VideoFilter   string `yaml:"video_filter,omitempty"`
	AudioFilter   string `yaml:"audio_filter,omitempty"`
	BufferSeconds int    `yaml:"buffer_seconds,omitempty"` // recording pre-roll
	RecordDir     string `yaml:"record_dir,omitempty"`
	Volume        int    `yaml:"volume,omitempty"` // 0..100
	Mute          bool   `yaml:"mute,omitempty"`
	Stretch       bool   `yaml:"stretch,omitempty"` // fill the window, no aspect lock
	Width         int    `yaml:"width,omitempty"`
	Height        int    `yaml:"height,omitempty"`
}

func defaultConfig() AppConfig {
	return AppConfig{
		BufferSeconds: 5,
		Volume:        100,
		Width:         1280,
		Height:        720,
	}
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", appName, "config.yml")
}

func loadConfig(path string) (AppConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// recordingFilePath builds <record dir>/YYYY-MM-DD_HH-MM-SS without an
// extension; the writer appends one based on the audio codec.
func recordingFilePath(cfg AppConfig, started time.Time) (string, error) {
	dir := cfg.RecordDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Videos", appName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, started.Format("2006-01-02_15-04-05")), nil
}

// sanitizeTitle makes a URI safe to show as a window title fragment.
func sanitizeTitle(uri string) string {
	if i := strings.Index(uri, "@"); i >= 0 && strings.Contains(uri[:i], "://") {
		// hide credentials embedded in the URI
		scheme := uri[:strings.Index(uri, "://")+3]
		return scheme + uri[i+1:]
	}
	return uri
}
