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

// Package discovery provides the camera discovery collaborators: a UDP
// multicast broadcaster/listener pair for announcing and finding devices on
// the local network, and a small TCP client/server pair for exchanging
// settings between peers. The message schemas are the caller's concern.
package discovery

import (
	"fmt"
	"net"
	"time"
)

const (
	// MulticastAddr is the discovery group every broadcaster targets.
	MulticastAddr = "239.255.255.247"
	// Port is the UDP discovery port; TCP servers take their port explicitly.
	Port = 8080

	stopTimeout = 5 * time.Second
)

// ifaceForIP resolves the network interface carrying the given unicast IP.
func ifaceForIP(ip string) (*net.Interface, error) {
	target := net.ParseIP(ip)
	if target == nil {
		return nil, fmt.Errorf("discovery: invalid interface address %q", ip)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(target) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("discovery: no interface with address %s", ip)
}
