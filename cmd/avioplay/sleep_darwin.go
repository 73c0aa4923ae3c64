//go:build darwin

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
	"log"

	"github.com/prashantgupta24/mac-sleep-notifier/notifier"
)

// handleSleep restarts the pipeline after a system wake; the demuxer's
// network session rarely survives a sleep.
func handleSleep() {
	notifierCh := notifier.GetInstance().Start()
	for activity := range notifierCh {
		switch activity.Type {
		case notifier.Awake:
			log.Println("machine awake")
			if window != nil && !window.closing {
				go window.restart("wake")
			}
		case notifier.Sleep:
			log.Println("machine sleeping")
		}
	}
}
