// Package usbdev finds the tail tester among attached USB serial adapters.
//
// Presence is derived from the serial port enumerator: the device counts as
// attached while at least one USB serial port reports the configured vendor
// and product identifiers, or, when a port is pinned, while that port exists.
package usbdev

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// ListFunc enumerates serial ports with their USB metadata.
type ListFunc func() ([]*enumerator.PortDetails, error)

// ID is a USB vendor/product identifier pair in hex, e.g. 0403:6001.
type ID struct {
	VendorID  string
	ProductID string
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.VendorID, id.ProductID)
}

// Matches reports whether the port belongs to a USB device with this ID.
func (id ID) Matches(port *enumerator.PortDetails) bool {
	if port == nil || !port.IsUSB {
		return false
	}

	return strings.EqualFold(strings.TrimSpace(port.VID), id.VendorID) &&
		strings.EqualFold(strings.TrimSpace(port.PID), id.ProductID)
}

// Target selects which enumerated ports count as the device.
type Target interface {
	String() string
	Matches(port *enumerator.PortDetails) bool
}

// PortName targets one serial port by name, USB or not. It is used when the
// operator pins the port in config.
type PortName string

func (p PortName) String() string {
	return string(p)
}

// Matches compares names case-insensitively, as Windows COM names are.
func (p PortName) Matches(port *enumerator.PortDetails) bool {
	return port != nil && strings.EqualFold(port.Name, strings.TrimSpace(string(p)))
}

func matchingPorts(list ListFunc, target Target) ([]string, error) {
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	var names []string
	for _, port := range ports {
		if target.Matches(port) {
			names = append(names, port.Name)
		}
	}

	return names, nil
}
