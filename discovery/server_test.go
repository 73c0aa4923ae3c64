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
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// freePort grabs an ephemeral TCP port on the loopback interface.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestServerClientRoundTrip(t *testing.T) {
	port := freePort(t)

	s := NewServer("127.0.0.1", port)
	requests := make(chan string, 1)
	s.ServerCallback = func(request string) []byte {
		requests <- request
		return []byte("settings payload")
	}
	require.NoError(t, s.Start())
	defer s.Stop()
	require.True(t, s.Running())

	c := NewClient("127.0.0.1", port)
	responses := make(chan []byte, 1)
	c.ClientCallback = func(response []byte) { responses <- response }
	c.ErrorCallback = func(msg string) { t.Errorf("client error: %s", msg) }

	c.Transmit("GET SETTINGS\r\n")

	select {
	case req := <-requests:
		require.Equal(t, "GET SETTINGS", req, "the CRLF terminator is stripped")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the request")
	}
	select {
	case resp := <-responses:
		require.Equal(t, []byte("settings payload"), resp)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive the response")
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	s := NewServer("127.0.0.1", freePort(t))
	require.NoError(t, s.Start())
	s.Stop()
	require.False(t, s.Running())
	s.Stop()
}

func TestServerEmptyResponse(t *testing.T) {
	port := freePort(t)
	s := NewServer("127.0.0.1", port)
	s.ServerCallback = func(string) []byte { return nil }
	require.NoError(t, s.Start())
	defer s.Stop()

	c := NewClient("127.0.0.1", port)
	done := make(chan []byte, 1)
	c.ClientCallback = func(response []byte) { done <- response }
	c.Transmit("PING\r\n")

	select {
	case resp := <-done:
		require.Empty(t, resp)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not complete")
	}
}

func TestClientConnectError(t *testing.T) {
	c := NewClient("127.0.0.1", freePort(t)) // nothing listening
	c.Timeout = 500 * time.Millisecond

	errs := make(chan string, 1)
	c.ErrorCallback = func(msg string) { errs <- msg }
	c.Transmit("GET\r\n")

	select {
	case msg := <-errs:
		require.Contains(t, msg, "client connect error")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a connect error")
	}
}

func TestClientSetEndpoint(t *testing.T) {
	port := freePort(t)
	s := NewServer("127.0.0.1", port)
	s.ServerCallback = func(string) []byte { return []byte("ok") }
	require.NoError(t, s.Start())
	defer s.Stop()

	c := NewClient("10.255.255.1", 1)
	c.SetEndpoint("127.0.0.1", port)
	done := make(chan []byte, 1)
	c.ClientCallback = func(response []byte) { done <- response }
	c.Transmit("HELLO\r\n")

	select {
	case resp := <-done:
		require.Equal(t, []byte("ok"), resp)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not complete")
	}
}
