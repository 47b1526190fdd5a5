// Package diagnostics turns the text of one scan frame into a fault report.
//
// A frame is valid only when it carries both the scan start and the scan
// complete markers. Disconnect and short-circuit lines are collected into
// per-frame event sets and reconciled: a short circuit whose two channels are
// both reported disconnected collapses into a single mismatch.
package diagnostics

import (
	"regexp"
	"strings"
)

const (
	ScanStartMarker    = "STARTING SCANING OPERATION..."
	ScanCompleteMarker = "SCANING COMPLITE"
)

var (
	disconnectPattern   = regexp.MustCompile(`DISCONNECT: (\w+)`)
	shortCircuitPattern = regexp.MustCompile(`SHORT CIRCUIT: (\w+) AND (\w+)`)
)

// Pair is a short-circuited channel pair in the orientation it was first seen.
type Pair struct {
	First  string
	Second string
}

func (p Pair) matches(a, b string) bool {
	return (p.First == a && p.Second == b) || (p.First == b && p.Second == a)
}

// Events holds what a single frame reported, in line order.
type Events struct {
	Disconnects   []string
	ShortCircuits []Pair
}

// Valid reports whether the frame contains both scan markers.
func Valid(lines []string) bool {
	var started, completed bool
	for _, line := range lines {
		if strings.Contains(line, ScanStartMarker) {
			started = true
		}
		if strings.Contains(line, ScanCompleteMarker) {
			completed = true
		}
	}

	return started && completed
}

// Extract collects disconnect and short-circuit events from every line.
// Duplicate disconnects are kept; short circuits are unique regardless of
// member order.
func Extract(lines []string) Events {
	var ev Events
	for _, line := range lines {
		if m := disconnectPattern.FindStringSubmatch(line); m != nil {
			ev.Disconnects = append(ev.Disconnects, m[1])
		}
		if m := shortCircuitPattern.FindStringSubmatch(line); m != nil && !ev.hasShortCircuit(m[1], m[2]) {
			ev.ShortCircuits = append(ev.ShortCircuits, Pair{First: m[1], Second: m[2]})
		}
	}

	return ev
}

func (e Events) hasShortCircuit(a, b string) bool {
	for _, p := range e.ShortCircuits {
		if p.matches(a, b) {
			return true
		}
	}

	return false
}

// Reconcile reduces the events to an ordered fault list. The input is not
// modified.
//
// Disconnects are visited in order. For each one only the first short circuit
// that starts with it and whose other end is also disconnected is consulted,
// then the first one ending with it. Other pairs touching that channel survive
// and are reported as plain short circuits afterwards.
func Reconcile(ev Events) []Fault {
	disconnects := append([]string(nil), ev.Disconnects...)
	shorts := append([]Pair(nil), ev.ShortCircuits...)

	var faults []Fault
	for len(disconnects) > 0 {
		d := disconnects[0]
		if i := findPair(shorts, disconnects, func(p Pair) (string, string) { return p.First, p.Second }, d); i >= 0 {
			p := shorts[i]
			faults = append(faults, Mismatch(p.First, p.Second))
			shorts = removePairAt(shorts, i)
			disconnects = removeFirst(disconnects, p.Second)
		} else if i := findPair(shorts, disconnects, func(p Pair) (string, string) { return p.Second, p.First }, d); i >= 0 {
			p := shorts[i]
			faults = append(faults, Mismatch(p.First, p.Second))
			shorts = removePairAt(shorts, i)
			disconnects = removeFirst(disconnects, p.First)
		} else {
			faults = append(faults, Disconnect(d))
		}
		disconnects = removeFirst(disconnects, d)
	}

	for _, p := range shorts {
		faults = append(faults, ShortCircuit(p.First, p.Second))
	}

	return faults
}

// Analyze validates and reconciles one frame.
func Analyze(lines []string) Result {
	if !Valid(lines) {
		return Result{Status: StatusCommunicationError}
	}

	faults := Reconcile(Extract(lines))
	if len(faults) == 0 {
		return Result{Status: StatusOK}
	}

	return Result{Status: StatusFaults, Faults: faults}
}

// findPair returns the index of the first pair whose near end (as picked by
// ends) is channel and whose far end is still in disconnects.
func findPair(shorts []Pair, disconnects []string, ends func(Pair) (near, far string), channel string) int {
	for i, p := range shorts {
		near, far := ends(p)
		if near == channel && contains(disconnects, far) {
			return i
		}
	}

	return -1
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}

	return false
}

func removeFirst(items []string, v string) []string {
	for i, item := range items {
		if item == v {
			return append(items[:i], items[i+1:]...)
		}
	}

	return items
}

func removePairAt(pairs []Pair, i int) []Pair {
	return append(pairs[:i], pairs[i+1:]...)
}
