//go:build !darwin

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

// handleSleep is a no-op outside darwin; there, a stream stalled by a sleep
// ends through the reader's I/O timeout.
func handleSleep() {}
