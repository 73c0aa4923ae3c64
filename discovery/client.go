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
	"io"
	"log"
	"net"
	"sync"
	"time"
)

// Client performs one settings exchange with a peer Server: connect, send
// the request, read until the remote closes, deliver the response once.
type Client struct {
	mu   sync.Mutex
	ip   string
	port int

	// Timeout bounds connect, write and read; zero selects the default.
	Timeout time.Duration

	// ClientCallback receives the complete response.
	ClientCallback func(response []byte)
	// ErrorCallback receives transmit failures; nil falls back to the log.
	ErrorCallback func(msg string)
}

func NewClient(ip string, port int) *Client {
	return &Client{ip: ip, port: port, Timeout: stopTimeout}
}

// SetEndpoint retargets the client at another peer.
func (c *Client) SetEndpoint(ip string, port int) {
	c.mu.Lock()
	c.ip, c.port = ip, port
	c.mu.Unlock()
}

func (c *Client) endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return net.JoinHostPort(c.ip, fmt.Sprintf("%d", c.port))
}

// Transmit sends the request and invokes ClientCallback with the response.
func (c *Client) Transmit(request string) {
	if err := c.transmit(request); err != nil {
		c.alert(err.Error())
	}
}

func (c *Client) transmit(request string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = stopTimeout
	}
	conn, err := net.DialTimeout("tcp", c.endpoint(), timeout)
	if err != nil {
		return fmt.Errorf("client connect error: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte(request)); err != nil {
		return fmt.Errorf("client send error: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}

	response, err := io.ReadAll(conn)
	if err != nil {
		return fmt.Errorf("client receive error: %w", err)
	}
	if c.ClientCallback != nil {
		c.ClientCallback(response)
	}
	return nil
}

func (c *Client) alert(msg string) {
	if c.ErrorCallback != nil {
		c.ErrorCallback(msg)
		return
	}
	log.Printf("discovery client: %s", msg)
}
