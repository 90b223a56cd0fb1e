package osc_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaka91/go-oscdispatch/osc"
)

func TestBuildSimpleMessage(t *testing.T) {
	msg, err := osc.NewMessage("/foo", 1)
	require.NoError(t, err)

	data, err := msg.BuildPacket()
	require.NoError(t, err)

	want := []byte{
		0x2f, 0x66, 0x6f, 0x6f, 0x00, 0x00, 0x00, 0x00,
		0x2c, 0x69, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	}
	assert.Equal(t, want, data)

	assertMessage(t, data, "/foo", []osc.Argument{osc.Int32(1)})
}

func TestMessageTypeTags(t *testing.T) {
	now := time.Now().UTC()
	msg, err := osc.NewMessage("/foo",
		1, 1.2, "a string", []byte("a blob"), true, false, nil,
		osc.Infinitum{}, osc.ColorRGBA{R: 99, G: 100, B: 101, A: 102}, now,
	)
	require.NoError(t, err)
	assert.Equal(t, ",ifsbTFNIrt", msg.TypeTags())

	data, err := msg.BuildPacket()
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	// The type tag string follows the eight address bytes, NUL padded to
	// the next multiple of four.
	assert.Equal(t, []byte(",ifsbTFNIrt\x00"), data[8:20])
}

func TestMessageRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	msg, err := osc.NewMessage("/foo/bar",
		1, 1.2, "a string", []byte("a blob"), int64(1)<<40, now,
		osc.Float64(2.4), osc.ColorRGBA{R: 99, G: 100, B: 101, A: 102},
		true, false, nil, osc.Infinitum{},
	)
	require.NoError(t, err)

	data, err := msg.BuildPacket()
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	parsed, rest, err := osc.ParseMessage(data)
	require.NoError(t, err)
	assert.Empty(t, rest)

	assert.Equal(t, msg.Address.Pattern, parsed.Address.Pattern)
	assert.Equal(t, msg.TypeTags(), parsed.TypeTags())
	require.Len(t, parsed.Arguments, len(msg.Arguments))
	for i, arg := range msg.Arguments {
		got := parsed.Arguments[i]
		switch want := arg.(type) {
		case osc.Float32:
			assert.InDelta(t, float64(want), float64(got.(osc.Float32)), 1e-6)
		case osc.Float64:
			assert.InDelta(t, float64(want), float64(got.(osc.Float64)), 1e-9)
		case osc.TimeTag:
			assert.Equal(t, want.Uint64(), got.(osc.TimeTag).Uint64())
		default:
			assert.Equal(t, arg, got)
		}
	}
}

func TestMessageWithoutArguments(t *testing.T) {
	msg, err := osc.NewMessage("/no/args")
	require.NoError(t, err)

	data, err := msg.BuildPacket()
	require.NoError(t, err)

	// A message without arguments still carries the bare "," tag string.
	assert.Equal(t, []byte("/no/args\x00\x00\x00\x00,\x00\x00\x00"), data)

	parsed, rest, err := osc.ParseMessage(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Empty(t, parsed.Arguments)
}

func TestMessageMissingTypeTags(t *testing.T) {
	// OSC 1.0 peers may omit the type tag string entirely.
	data := []byte("/foo\x00\x00\x00\x00")

	parsed, rest, err := osc.ParseMessage(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "/foo", parsed.Address.Pattern)
	assert.Empty(t, parsed.Arguments)
}

func TestMessageBadAddress(t *testing.T) {
	msg, err := osc.NewMessage("foo")
	require.NoError(t, err)

	_, err = msg.BuildPacket()
	assert.ErrorIs(t, err, osc.ErrMessageStart)
}

func TestBuildEmptyBundle(t *testing.T) {
	bun := osc.NewBundle(osc.Immediately)

	data, err := bun.BuildPacket()
	require.NoError(t, err)

	want := []byte{
		0x23, 0x62, 0x75, 0x6e, 0x64, 0x6c, 0x65, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
	}
	assert.Equal(t, want, data)

	parsed, rest, err := osc.ParseBundle(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.True(t, parsed.TimeTag.IsImmediate())
	assert.Empty(t, parsed.Packets)
}

func TestBundleParentLinks(t *testing.T) {
	bun := osc.NewBundle(osc.Immediately)

	for _, addr := range []string{"/foo", "/bar/baz", "/no/args"} {
		msg, err := osc.NewMessage(addr, 1, 2)
		require.NoError(t, err)
		bun.AddPacket(msg)
	}

	require.Len(t, bun.Packets, 3)
	for i, p := range bun.Packets {
		msg := p.(*osc.Message)
		assert.Same(t, bun, msg.ParentBundle)
		assert.Equal(t, i, msg.ParentIndex)
	}
}

func TestBundleRoundTrip(t *testing.T) {
	bun := osc.NewBundle(osc.TimeTagAt(time.Now().Add(time.Second)))

	msg1, err := osc.NewMessage("/foo", 1, 1.2, "a string")
	require.NoError(t, err)
	msg2, err := osc.NewMessage("/bar/baz", []byte("a blob"), true)
	require.NoError(t, err)
	bun.AddPacket(msg1)
	bun.AddPacket(msg2)

	data, err := bun.BuildPacket()
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	parsed, rest, err := osc.ParseBundle(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, bun.TimeTag, parsed.TimeTag)
	require.Len(t, parsed.Packets, 2)
	assert.Equal(t, "/foo", parsed.Packets[0].(*osc.Message).Address.Pattern)
	assert.Equal(t, "/bar/baz", parsed.Packets[1].(*osc.Message).Address.Pattern)
}

func TestNestedBundleRebuild(t *testing.T) {
	build := func(depth int) *osc.Bundle {
		var create func(depth int, prefix string) *osc.Bundle
		create = func(depth int, prefix string) *osc.Bundle {
			bun := osc.NewBundle(osc.TimeTag{Seconds: uint32(3849286898 + depth), Fraction: 12345})
			for i := 0; i < 2; i++ {
				msg, err := osc.NewMessage(prefix+"/msg", i, "payload", osc.Infinitum{})
				require.NoError(t, err)
				bun.AddPacket(msg)
			}
			if depth > 0 {
				for i := 0; i < 2; i++ {
					bun.AddPacket(create(depth-1, prefix+"/sub"))
				}
			}
			return bun
		}
		return create(depth, "/root")
	}

	root := build(3)

	data, err := root.BuildPacket()
	require.NoError(t, err)
	assert.Zero(t, len(data)%4)

	parsed, rest, err := osc.ParseBundle(data)
	require.NoError(t, err)
	assert.Empty(t, rest)

	// Parsing followed by rebuilding yields byte-identical output.
	rebuilt, err := parsed.BuildPacket()
	require.NoError(t, err)
	assert.Equal(t, data, rebuilt)
}

func TestInvalidPackets(t *testing.T) {
	msgBytes := []byte("/foo\x00\x00\x00\x00,i\x00\x00\x00\x00\x00\x01")
	badMsgBytes := []byte("badmsg\x00\x00,i\x00\x00\x00\x00\x00\x01")

	packLength := func(inner []byte) []byte {
		data := []byte("#bundle\x00\x00\x00\x00\x00\x00\x00\x00\x01")
		data = append(data, 0, 0, 0, byte(len(inner)))
		return append(data, inner...)
	}

	bunBytes := packLength(msgBytes)
	badBunBytes := append([]byte("badbundl\x00\x00\x00\x00\x00\x00\x00\x01"), bunBytes[16:]...)
	badInnerBytes := packLength(badMsgBytes)

	goodMsg, _, err := osc.ParseMessage(msgBytes)
	require.NoError(t, err)
	assert.Equal(t, "/foo", goodMsg.Address.Pattern)
	assert.Equal(t, []osc.Argument{osc.Int32(1)}, goodMsg.Arguments)

	goodBun, _, err := osc.ParseBundle(bunBytes)
	require.NoError(t, err)
	assert.True(t, goodBun.TimeTag.IsImmediate())
	require.Len(t, goodBun.Packets, 1)

	_, _, err = osc.ParsePacket(badMsgBytes)
	assert.ErrorIs(t, err, osc.ErrPacketStart)

	_, _, err = osc.ParseMessage(badMsgBytes)
	assert.ErrorIs(t, err, osc.ErrMessageStart)

	_, _, err = osc.ParsePacket(badBunBytes)
	assert.ErrorIs(t, err, osc.ErrPacketStart)

	_, _, err = osc.ParseBundle(badBunBytes)
	assert.ErrorIs(t, err, osc.ErrBundleStart)

	_, _, err = osc.ParsePacket(badInnerBytes)
	assert.ErrorIs(t, err, osc.ErrPacketStart)

	_, _, err = osc.ParseBundle(badInnerBytes)
	assert.ErrorIs(t, err, osc.ErrPacketStart)
}

func TestParsePacketAlignment(t *testing.T) {
	_, _, err := osc.ParsePacket([]byte("/foo\x00\x00"))
	assert.ErrorIs(t, err, osc.ErrAlignment)

	_, _, err = osc.ParsePacket(nil)
	assert.ErrorIs(t, err, osc.ErrInputEmpty)
}
