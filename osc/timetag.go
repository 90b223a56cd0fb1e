package osc

import (
	"encoding/binary"
	"time"
)

// epochOffset is the number of seconds between the NTP epoch (1900-01-01)
// and the Unix epoch (1970-01-01).
const epochOffset = 2208988800

// TimeTag is an OSC time tag, a 64-bit fixed point NTP timestamp. Seconds
// holds the whole seconds since the NTP epoch, Fraction the sub-second
// remainder as a numerator over 2^32.
type TimeTag struct {
	Seconds  uint32
	Fraction uint32
}

// Immediately is the special case time tag meaning "dispatch without delay".
var Immediately = TimeTag{Seconds: 0, Fraction: 1}

// Now returns the time tag for the current wall clock time.
func Now() TimeTag {
	return TimeTagAt(time.Now())
}

// TimeTagAt converts the given time to a TimeTag.
func TimeTagAt(t time.Time) TimeTag {
	nsec := t.UnixNano() + epochOffset*int64(time.Second)
	sec := nsec / int64(time.Second)
	frac := (nsec - sec*int64(time.Second)) << 32 / int64(time.Second)

	return TimeTag{Seconds: uint32(sec), Fraction: uint32(frac)}
}

// TimeTagFromUint64 unpacks a TimeTag from its wire representation, seconds
// in the high 32 bits.
func TimeTagFromUint64(v uint64) TimeTag {
	return TimeTag{Seconds: uint32(v >> 32), Fraction: uint32(v)}
}

// Uint64 packs the TimeTag into its wire representation.
func (t TimeTag) Uint64() uint64 {
	return uint64(t.Seconds)<<32 | uint64(t.Fraction)
}

// IsImmediate reports whether the special case of "immediately" is indicated.
func (t TimeTag) IsImmediate() bool {
	return t.Seconds == 0 && t.Fraction == 1
}

// FloatSeconds combines Seconds and Fraction into a single NTP timestamp.
func (t TimeTag) FloatSeconds() float64 {
	return float64(t.Seconds) + float64(t.Fraction)/(1<<32)
}

// Time converts the TimeTag to a time.Time on the Unix epoch.
func (t TimeTag) Time() time.Time {
	secs := int64(t.Seconds) - epochOffset
	nanos := int64(t.Fraction) * int64(time.Second) >> 32

	return time.Unix(secs, nanos)
}

// Before reports whether t is earlier than other on the wire ordering.
func (t TimeTag) Before(other TimeTag) bool {
	return t.Uint64() < other.Uint64()
}

// After reports whether t is later than other on the wire ordering.
func (t TimeTag) After(other TimeTag) bool {
	return t.Uint64() > other.Uint64()
}

// Tag implements Argument.
func (t TimeTag) Tag() byte { return 't' }

// Value implements Argument.
func (t TimeTag) Value() any { return t }

func (t TimeTag) appendPayload(buf []byte) []byte {
	return binary.BigEndian.AppendUint64(buf, t.Uint64())
}

// ColorRGBA is a 32-bit RGBA color with 8 bits per component.
type ColorRGBA struct {
	R uint8
	G uint8
	B uint8
	A uint8
}

// ColorFromUint32 unpacks a color from its wire representation.
func ColorFromUint32(v uint32) ColorRGBA {
	return ColorRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}
}

// Uint32 packs the color as (r<<24)|(g<<16)|(b<<8)|a.
func (c ColorRGBA) Uint32() uint32 {
	return uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A)
}

// Tag implements Argument.
func (c ColorRGBA) Tag() byte { return 'r' }

// Value implements Argument.
func (c ColorRGBA) Value() any { return c }

func (c ColorRGBA) appendPayload(buf []byte) []byte {
	return binary.BigEndian.AppendUint32(buf, c.Uint32())
}

// MidiMessage is a 4-byte MIDI message carried as an OSC argument.
type MidiMessage struct {
	Port   uint8
	Status uint8
	Data1  uint8
	Data2  uint8
}

// Tag implements Argument.
func (m MidiMessage) Tag() byte { return 'm' }

// Value implements Argument.
func (m MidiMessage) Value() any { return m }

func (m MidiMessage) appendPayload(buf []byte) []byte {
	return append(buf, m.Port, m.Status, m.Data1, m.Data2)
}

// Infinitum is the empty-payload "I" argument, also called "Impulse". Its
// presence in a message provides the only semantic meaning.
type Infinitum struct{}

// Tag implements Argument.
func (Infinitum) Tag() byte { return 'I' }

// Value implements Argument.
func (Infinitum) Value() any { return Infinitum{} }

func (Infinitum) appendPayload(buf []byte) []byte { return buf }

// paddedSize returns the smallest multiple of four that fits n.
func paddedSize(n int) int {
	return (n + 3) &^ 3
}

// paddedSizeStop returns the smallest multiple of four strictly greater than
// n, guaranteeing room for at least one NUL terminator.
func paddedSizeStop(n int) int {
	return (n + 4) &^ 3
}
