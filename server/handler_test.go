package server_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaka91/go-oscdispatch/osc"
	"github.com/dnaka91/go-oscdispatch/server"
	"github.com/dnaka91/go-oscdispatch/space"
)

// recorder collects dispatched messages with their delivery wall time.
type recorder struct {
	mu      sync.Mutex
	entries []recordedDispatch
}

type recordedDispatch struct {
	address string
	rx      osc.TimeTag
	at      time.Time
}

func (r *recorder) callback(node *space.AddressNode, msg *osc.Message, rx osc.TimeTag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedDispatch{
		address: node.Address().Pattern,
		rx:      rx,
		at:      time.Now(),
	})
}

func (r *recorder) snapshot() []recordedDispatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]recordedDispatch, len(r.entries))
	copy(entries, r.entries)

	return entries
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

func newTestHandler(t *testing.T, addresses ...string) (*server.Handler, *recorder) {
	t.Helper()

	sp := space.NewAddressSpace()
	rec := &recorder{}
	for _, addr := range addresses {
		_, leaf, err := sp.CreateFromAddress(addr, "")
		require.NoError(t, err)
		leaf.AddCallback(rec.callback)
	}

	h := server.NewHandler(sp)
	h.Open()
	t.Cleanup(h.Close)

	return h, rec
}

func TestHandlerMessageDispatch(t *testing.T) {
	h, rec := newTestHandler(t, "/foo/a", "/foo/b")

	msg, err := osc.NewMessage("/foo/a", 1)
	require.NoError(t, err)

	rx := osc.Now()
	h.HandlePacket(msg, rx)

	entries := rec.snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "/foo/a", entries[0].address)
	assert.Equal(t, rx, entries[0].rx)

	// A wildcard address fires on every matching node, in preorder.
	wild, err := osc.NewMessage("/foo/*", 1)
	require.NoError(t, err)
	h.HandlePacket(wild, rx)

	entries = rec.snapshot()
	require.Len(t, entries, 3)
	assert.Equal(t, "/foo/a", entries[1].address)
	assert.Equal(t, "/foo/b", entries[2].address)
}

func TestHandlerImmediateBundle(t *testing.T) {
	h, rec := newTestHandler(t, "/foo/a", "/foo/b")

	bun := osc.NewBundle(osc.Immediately)
	msg1, err := osc.NewMessage("/foo/a", 1)
	require.NoError(t, err)
	msg2, err := osc.NewMessage("/foo/b", 2)
	require.NoError(t, err)
	bun.AddPacket(msg1)
	bun.AddPacket(msg2)

	rx := osc.Now()
	h.HandlePacket(bun, rx)

	entries := rec.snapshot()
	require.Len(t, entries, 2)
	assert.Equal(t, "/foo/a", entries[0].address)
	assert.Equal(t, "/foo/b", entries[1].address)
	assert.Equal(t, rx, entries[0].rx)
	assert.Equal(t, rx, entries[1].rx)
}

func TestHandlerScheduledBundle(t *testing.T) {
	h, rec := newTestHandler(t, "/foo/a", "/foo/b")

	const delay = 500 * time.Millisecond
	start := time.Now()

	bun := osc.NewBundle(osc.TimeTagAt(start.Add(delay)))
	msg1, err := osc.NewMessage("/foo/a", 1)
	require.NoError(t, err)
	msg2, err := osc.NewMessage("/foo/b", 2)
	require.NoError(t, err)
	bun.AddPacket(msg1)
	bun.AddPacket(msg2)

	rx := osc.Now()
	h.HandlePacket(bun, rx)

	// Nothing is delivered before the time tag elapses.
	assert.Zero(t, rec.len())
	time.Sleep(delay / 2)
	assert.Zero(t, rec.len())

	require.Eventually(t, func() bool { return rec.len() == 2 },
		2*time.Second, 5*time.Millisecond)

	entries := rec.snapshot()
	for _, entry := range entries {
		// Both messages share the receive timestamp and are delivered only
		// after at least 90% of the scheduled delay.
		assert.Equal(t, rx, entry.rx)
		assert.GreaterOrEqual(t, entry.at.Sub(start), delay*9/10)
	}
	assert.Equal(t, "/foo/a", entries[0].address)
	assert.Equal(t, "/foo/b", entries[1].address)
}

func TestHandlerBundleOrdering(t *testing.T) {
	h, rec := newTestHandler(t, "/foo/a", "/foo/b")

	start := time.Now()

	later := osc.NewBundle(osc.TimeTagAt(start.Add(400 * time.Millisecond)))
	msg1, err := osc.NewMessage("/foo/b", 2)
	require.NoError(t, err)
	later.AddPacket(msg1)

	sooner := osc.NewBundle(osc.TimeTagAt(start.Add(200 * time.Millisecond)))
	msg2, err := osc.NewMessage("/foo/a", 1)
	require.NoError(t, err)
	sooner.AddPacket(msg2)

	rx := osc.Now()
	// The later bundle arrives first, yet dispatch follows the time tags.
	h.HandlePacket(later, rx)
	h.HandlePacket(sooner, rx)

	require.Eventually(t, func() bool { return rec.len() == 2 },
		2*time.Second, 5*time.Millisecond)

	entries := rec.snapshot()
	assert.Equal(t, "/foo/a", entries[0].address)
	assert.Equal(t, "/foo/b", entries[1].address)
	assert.True(t, entries[0].at.Before(entries[1].at) || entries[0].at.Equal(entries[1].at))
}

func TestHandlerCloseDiscardsPending(t *testing.T) {
	sp := space.NewAddressSpace()
	rec := &recorder{}
	_, leaf, err := sp.CreateFromAddress("/foo", "")
	require.NoError(t, err)
	leaf.AddCallback(rec.callback)

	h := server.NewHandler(sp)
	h.Open()

	bun := osc.NewBundle(osc.TimeTagAt(time.Now().Add(time.Hour)))
	msg, err := osc.NewMessage("/foo", 1)
	require.NoError(t, err)
	bun.AddPacket(msg)
	h.HandlePacket(bun, osc.Now())

	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not return in time")
	}

	assert.Zero(t, rec.len())

	// Close is idempotent.
	h.Close()
}
