package transport

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// Parity is the serial parity mode as written in config.
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

func ParseParity(raw string) (Parity, error) {
	switch p := Parity(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ParityNone, nil
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported parity: %q", raw)
	}
}

func (p Parity) serialParity() serial.Parity {
	switch p {
	case ParityOdd:
		return serial.OddParity
	case ParityEven:
		return serial.EvenParity
	case ParityMark:
		return serial.MarkParity
	case ParitySpace:
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}
