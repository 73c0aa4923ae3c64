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
	"fmt"
	"log"
	"net"

	"golang.org/x/net/ipv4"
)

// Broadcaster sends discovery datagrams to the multicast group, once per
// configured interface.
type Broadcaster struct {
	conns []*broadcastConn
	dst   *net.UDPAddr

	// ErrorCallback receives per-send failures; nil falls back to the log.
	ErrorCallback func(msg string)
}

type broadcastConn struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// NewBroadcaster opens one multicast socket per interface IP, with loopback
// disabled.
func NewBroadcaster(ifAddrs []string) (*Broadcaster, error) {
	b := &Broadcaster{
		dst: &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port},
	}
	for _, addr := range ifAddrs {
		iface, err := ifaceForIP(addr)
		if err != nil {
			b.Close()
			return nil, err
		}
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(addr)})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("discovery: broadcast socket creation error: %w", err)
		}
		pc := ipv4.NewPacketConn(conn)
		if err := pc.SetMulticastInterface(iface); err != nil {
			conn.Close()
			b.Close()
			return nil, fmt.Errorf("discovery: multicast interface error: %w", err)
		}
		if err := pc.SetMulticastLoopback(false); err != nil {
			conn.Close()
			b.Close()
			return nil, fmt.Errorf("discovery: multicast loopback error: %w", err)
		}
		b.conns = append(b.conns, &broadcastConn{conn: conn, pc: pc})
	}
	return b, nil
}

// EnableLoopback controls whether sent datagrams are delivered to local
// listeners as well.
func (b *Broadcaster) EnableLoopback(enable bool) error {
	for _, c := range b.conns {
		if err := c.pc.SetMulticastLoopback(enable); err != nil {
			return fmt.Errorf("discovery: multicast loopback error: %w", err)
		}
	}
	return nil
}

// Send transmits msg on every interface. Failures are reported through the
// error callback and do not stop the remaining interfaces.
func (b *Broadcaster) Send(msg string) {
	for _, c := range b.conns {
		if _, err := c.conn.WriteToUDP([]byte(msg), b.dst); err != nil {
			b.alert(fmt.Sprintf("send error: %v", err))
		}
	}
}

func (b *Broadcaster) alert(msg string) {
	if b.ErrorCallback != nil {
		b.ErrorCallback(msg)
		return
	}
	log.Printf("discovery broadcaster: %s", msg)
}

func (b *Broadcaster) Close() {
	for _, c := range b.conns {
		c.conn.Close()
	}
	b.conns = nil
}
