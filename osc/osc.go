// Package osc implements the "Open Sound Control" (OSC 1.1) wire format.
//
// The package covers both directions: building packets byte-exactly for
// transmission and parsing received datagrams back into typed values. On top
// of the codec it provides the OSC address model, including glob-style
// pattern matching between address patterns and concrete addresses.
package osc

import (
	"errors"
	"fmt"
)

// Possible errors while reading or building OSC packets.
var (
	ErrInputEmpty   = errors.New("input data is empty")
	ErrPacketStart  = errors.New(`expected either "/" or "#" in start byte`)
	ErrMessageStart = errors.New(`expected "/" in start byte`)
	ErrBundleStart  = errors.New(`expected "#bundle" in start bytes`)
	ErrAlignment    = errors.New("packet length is not a multiple of four")
)

// Packet is a complete OSC packet, either a *Message or a *Bundle.
//
// The interface is sealed. Only the two packet kinds defined by this package
// can appear on the wire.
type Packet interface {
	// BuildPacket constructs the wire bytes of the packet. The resulting
	// length is always a multiple of four.
	BuildPacket() ([]byte, error)

	setParent(b *Bundle, index int)
}

var (
	_ Packet = (*Message)(nil)
	_ Packet = (*Bundle)(nil)
)

// IterateMessages unpacks the packet into individual messages and calls the
// given handler for each, descending into bundles recursively. In case the
// handler returns an error, it is returned from this function.
func IterateMessages(p Packet, handler func(msg *Message) error) error {
	switch pkt := p.(type) {
	case *Message:
		return handler(pkt)
	case *Bundle:
		for _, inner := range pkt.Packets {
			if err := IterateMessages(inner, handler); err != nil {
				return err
			}
		}
	}

	return nil
}

// ParsePacket reads and parses a raw byte slice into an OSC packet. The
// remaining bytes (if any) are returned for further processing by the user,
// as well.
func ParsePacket(buf []byte) (Packet, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, ErrInputEmpty
	}
	if len(buf)%4 != 0 {
		return nil, nil, ErrAlignment
	}

	switch buf[0] {
	case '/':
		return parseMessage(buf)
	case '#':
		return parseBundle(buf)
	default:
		return nil, nil, fmt.Errorf("%w: %#x", ErrPacketStart, buf[0])
	}
}
