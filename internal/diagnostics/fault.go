package diagnostics

import "fmt"

// FaultKind identifies a wiring fault. Values keep the fixture protocol spelling
// because downstream log parsers match on them.
type FaultKind string

const (
	FaultMismatch     FaultKind = "Missmatch"
	FaultDisconnect   FaultKind = "Disconnect"
	FaultShortCircuit FaultKind = "ShortCircut"
)

// Fault is one entry of a scan report. Second is empty for disconnects.
type Fault struct {
	Kind   FaultKind
	First  string
	Second string
}

func Mismatch(first, second string) Fault {
	return Fault{Kind: FaultMismatch, First: first, Second: second}
}

func Disconnect(channel string) Fault {
	return Fault{Kind: FaultDisconnect, First: channel}
}

func ShortCircuit(first, second string) Fault {
	return Fault{Kind: FaultShortCircuit, First: first, Second: second}
}

func (f Fault) String() string {
	line := fmt.Sprintf("%s: %s", f.Kind, f.First)
	if f.Second != "" {
		line += " and " + f.Second
	}

	return line
}

// Status is the outcome class of one analyzed frame.
type Status string

const (
	StatusOK                 Status = "ok"
	StatusFaults             Status = "faults"
	StatusCommunicationError Status = "communication_error"
)

// Result is the scan outcome delivered to consumers.
type Result struct {
	Status Status
	Faults []Fault
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Headline is the one-line summary shown to the operator.
func (r Result) Headline() string {
	switch r.Status {
	case StatusOK:
		return "TAIL IS OK"
	case StatusCommunicationError:
		return "SORRY COMMUNICATION ERROR, TRY AGAIN"
	}
	if len(r.Faults) == 1 {
		return "SINGLE ERROR"
	}

	return fmt.Sprintf("%d ERRORS", len(r.Faults))
}
