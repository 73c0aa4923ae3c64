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
package discovery

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// Listener receives discovery datagrams from the multicast group and hands
// each payload to ListenCallback on a receiver goroutine.
type Listener struct {
	ipAddrs []string

	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	running atomic.Bool
	done    chan struct{}
	mu      sync.Mutex

	// ListenCallback receives one datagram payload per invocation.
	ListenCallback func(msg string)
	// ErrorCallback receives receive-loop failures; nil falls back to the log.
	ErrorCallback func(msg string)
}

func NewListener(ipAddrs []string) *Listener {
	return &Listener{ipAddrs: ipAddrs}
}

// Start binds the discovery port, joins the multicast group on each
// configured interface and launches the receiver goroutine.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running.Load() {
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if err != nil {
		return fmt.Errorf("discovery: listener socket creation error: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: net.ParseIP(MulticastAddr)}
	joined := 0
	for _, addr := range l.ipAddrs {
		iface, err := ifaceForIP(addr)
		if err != nil {
			l.alert(err.Error())
			continue
		}
		if err := pc.JoinGroup(iface, group); err != nil {
			l.alert(fmt.Sprintf("join group on %s: %v", addr, err))
			continue
		}
		joined++
	}
	if joined == 0 && len(l.ipAddrs) > 0 {
		conn.Close()
		return errors.New("discovery: listener could not join the multicast group on any interface")
	}

	l.conn = conn
	l.pc = pc
	l.done = make(chan struct{})
	l.running.Store(true)
	go l.receive()
	return nil
}

func (l *Listener) receive() {
	defer close(l.done)
	buf := make([]byte, 1024)
	for l.running.Load() {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if l.running.Load() && !errors.Is(err, net.ErrClosed) {
				l.alert(fmt.Sprintf("receive error: %v", err))
			}
			return
		}
		if l.ListenCallback != nil {
			l.ListenCallback(string(buf[:n]))
		}
	}
}

// Stop closes the socket and waits for the receiver goroutine, bounded by
// the stop timeout.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running.Load() {
		return
	}
	l.running.Store(false)
	l.conn.Close()
	select {
	case <-l.done:
	case <-time.After(stopTimeout):
		l.alert("listener stop timeout")
	}
	l.conn = nil
	l.pc = nil
}

// Running reports whether the receiver goroutine is active.
func (l *Listener) Running() bool { return l.running.Load() }

func (l *Listener) alert(msg string) {
	if l.ErrorCallback != nil {
		l.ErrorCallback(msg)
		return
	}
	log.Printf("discovery listener: %s", msg)
}
