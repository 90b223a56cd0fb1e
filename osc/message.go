package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// bundleHeader is the literal start of every OSC bundle.
var bundleHeader = []byte("#bundle\x00")

// Message is a single OSC message: an address pattern followed by zero or
// more typed arguments.
type Message struct {
	// Address is the OSC address pattern of the message.
	Address Address
	// Arguments holds the typed arguments in wire order.
	Arguments []Argument

	// Peer is the remote address the message was received from, or the
	// destination when sending. Nil for local messages.
	Peer net.Addr
	// ParentBundle is the bundle containing this message, if any.
	ParentBundle *Bundle
	// ParentIndex is the index of the message within its parent bundle, or
	// -1 when it has no parent.
	ParentIndex int
}

// NewMessage creates a Message for the given address and argument values.
// Values are converted to their narrowest argument variant with Arg.
func NewMessage(address string, values ...any) (*Message, error) {
	msg := &Message{Address: NewAddress(address), ParentIndex: -1}
	if err := msg.AddArguments(values...); err != nil {
		return nil, err
	}

	return msg, nil
}

// AddArgument converts the given value with Arg and appends it.
func (m *Message) AddArgument(value any) error {
	arg, err := Arg(value)
	if err != nil {
		return err
	}
	m.Arguments = append(m.Arguments, arg)

	return nil
}

// AddArguments converts and appends multiple values.
func (m *Message) AddArguments(values ...any) error {
	for _, value := range values {
		if err := m.AddArgument(value); err != nil {
			return err
		}
	}

	return nil
}

// TypeTags returns the comma-prefixed type tag string of the message.
func (m *Message) TypeTags() string {
	tags := make([]byte, 0, len(m.Arguments)+1)
	tags = append(tags, ',')
	for _, arg := range m.Arguments {
		tags = append(tags, arg.Tag())
	}

	return string(tags)
}

// BuildPacket constructs the wire bytes of the message: the address as an
// OSC string, the type tag string (emitted even for zero arguments) and the
// concatenated argument payloads.
func (m *Message) BuildPacket() ([]byte, error) {
	if !strings.HasPrefix(m.Address.Pattern, "/") {
		return nil, fmt.Errorf("%w: %q", ErrMessageStart, m.Address.Pattern)
	}

	buf := appendPaddedString(nil, m.Address.Pattern)
	buf = appendPaddedString(buf, m.TypeTags())
	for _, arg := range m.Arguments {
		buf = arg.appendPayload(buf)
	}

	return buf, nil
}

func (m *Message) setParent(b *Bundle, index int) {
	m.ParentBundle = b
	m.ParentIndex = index
}

func (m *Message) String() string {
	values := make([]any, 0, len(m.Arguments))
	for _, arg := range m.Arguments {
		values = append(values, arg.Value())
	}

	return fmt.Sprintf("Message %q %q %v", m.Address.Pattern, m.TypeTags()[1:], values)
}

// ParseMessage parses the wire bytes of a single message. The remaining
// bytes after the message are returned as well.
//
// A message without the comma-prefixed type tag string is accepted and
// yields zero arguments (OSC 1.0 interoperation), although BuildPacket
// always emits one.
func ParseMessage(buf []byte) (*Message, []byte, error) {
	if len(buf) == 0 || buf[0] != '/' {
		return nil, nil, ErrMessageStart
	}

	return parseMessageBody(buf)
}

func parseMessage(buf []byte) (Packet, []byte, error) {
	msg, rest, err := parseMessageBody(buf)
	if err != nil {
		return nil, nil, err
	}

	return msg, rest, nil
}

func parseMessageBody(buf []byte) (*Message, []byte, error) {
	address, rest, err := readPaddedString(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed reading address: %w", err)
	}

	msg := &Message{Address: NewAddress(address), ParentIndex: -1}
	if len(rest) == 0 || rest[0] != ',' {
		return msg, rest, nil
	}

	tags, rest, err := readPaddedString(rest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed reading type tags: %w", err)
	}

	msg.Arguments = make([]Argument, 0, len(tags)-1)
	for i := 1; i < len(tags); i++ {
		arg, newRest, err := readArgument(tags[i], rest)
		if err != nil {
			return nil, nil, err
		}
		rest = newRest
		msg.Arguments = append(msg.Arguments, arg)
	}

	return msg, rest, nil
}

// Bundle is an OSC bundle: a delivery time tag and a list of contained
// packets, which may be messages or bundles themselves.
type Bundle struct {
	// TimeTag is the delivery time tag of the bundle.
	TimeTag TimeTag
	// Packets holds the contained packets in wire order. Nesting is allowed
	// to arbitrary depth.
	Packets []Packet

	// Peer is the remote address the bundle was received from, or the
	// destination when sending. Nil for local bundles.
	Peer net.Addr
	// ParentBundle is the bundle containing this one, if any.
	ParentBundle *Bundle
	// ParentIndex is the index within the parent bundle, or -1.
	ParentIndex int
}

// NewBundle creates an empty Bundle with the given time tag.
func NewBundle(timetag TimeTag) *Bundle {
	return &Bundle{TimeTag: timetag, ParentIndex: -1}
}

// AddPacket appends a message or bundle and records the parent linkage on
// the added packet.
func (b *Bundle) AddPacket(p Packet) {
	p.setParent(b, len(b.Packets))
	b.Packets = append(b.Packets, p)
}

// BuildPacket constructs the wire bytes of the bundle: the "#bundle" header,
// the time tag and each contained packet prefixed with its length.
func (b *Bundle) BuildPacket() ([]byte, error) {
	buf := appendPaddedString(nil, "#bundle")
	buf = binary.BigEndian.AppendUint64(buf, b.TimeTag.Uint64())

	for _, p := range b.Packets {
		data, err := p.BuildPacket()
		if err != nil {
			return nil, err
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	return buf, nil
}

func (b *Bundle) setParent(parent *Bundle, index int) {
	b.ParentBundle = parent
	b.ParentIndex = index
}

func (b *Bundle) String() string {
	return fmt.Sprintf("Bundle %d %v", b.TimeTag.Uint64(), b.Packets)
}

// ParseBundle parses the wire bytes of a single bundle. The remaining bytes
// after the bundle are returned as well.
func ParseBundle(buf []byte) (*Bundle, []byte, error) {
	if !bytes.HasPrefix(buf, bundleHeader) {
		return nil, nil, ErrBundleStart
	}

	return parseBundleBody(buf)
}

func parseBundle(buf []byte) (Packet, []byte, error) {
	if !bytes.HasPrefix(buf, bundleHeader) {
		return nil, nil, ErrBundleStart
	}

	bun, rest, err := parseBundleBody(buf)
	if err != nil {
		return nil, nil, err
	}

	return bun, rest, nil
}

func parseBundleBody(buf []byte) (*Bundle, []byte, error) {
	rest := buf[len(bundleHeader):]
	if len(rest) < lenTimeTag {
		return nil, nil, fmt.Errorf("%w for a time tag", ErrTruncated)
	}

	bun := NewBundle(TimeTagFromUint64(binary.BigEndian.Uint64(rest[:lenTimeTag])))
	rest = rest[lenTimeTag:]

	for len(rest) > 0 {
		if len(rest) < 4 {
			return nil, nil, fmt.Errorf("%w for an element length", ErrTruncated)
		}
		length := int32(binary.BigEndian.Uint32(rest[:4]))
		if length < 0 {
			return nil, nil, ErrNegativeLength
		}
		rest = rest[4:]

		if int(length)%4 != 0 {
			return nil, nil, ErrAlignment
		}
		if int(length) > len(rest) {
			return nil, nil, fmt.Errorf("%w for a bundle element", ErrTruncated)
		}

		packet, _, err := ParsePacket(rest[:length])
		if err != nil {
			return nil, nil, err
		}
		bun.AddPacket(packet)
		rest = rest[length:]
	}

	return bun, rest, nil
}
