// Package server implements the OSC transport harness: a UDP server with
// receive/transmit queues and a dispatch engine that honours bundle time
// tags for scheduled delivery.
package server

import (
	"container/heap"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dnaka91/go-oscdispatch/osc"
	"github.com/dnaka91/go-oscdispatch/space"
)

// queuedBundle is an entry of the deferred bundle queue. A nil bundle is
// the shutdown sentinel.
type queuedBundle struct {
	timetag osc.TimeTag
	rx      osc.TimeTag
	bundle  *osc.Bundle
	seq     uint64
}

// bundleQueue is a priority queue keyed by bundle time tag, ties broken by
// insertion order.
type bundleQueue []*queuedBundle

func (q bundleQueue) Len() int { return len(q) }

func (q bundleQueue) Less(i, j int) bool {
	a, b := q[i].timetag.Uint64(), q[j].timetag.Uint64()
	if a != b {
		return a < b
	}

	return q[i].seq < q[j].seq
}

func (q bundleQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *bundleQueue) Push(x any) { *q = append(*q, x.(*queuedBundle)) }

func (q *bundleQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]

	return item
}

// Handler dispatches packets to an address space. Messages fire immediately
// on every matching node; bundles with a future time tag are held on a
// priority queue until their time arrives.
type Handler struct {
	space *space.AddressSpace
	stats *Stats

	mu      sync.Mutex
	queue   bundleQueue
	seq     uint64
	running bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewHandler creates a Handler dispatching to the given address space.
func NewHandler(sp *space.AddressSpace) *Handler {
	return &Handler{space: sp}
}

// AddressSpace returns the address space the handler dispatches to.
func (h *Handler) AddressSpace() *space.AddressSpace { return h.space }

// Open starts the dispatch loop. It is a no-op when already running.
func (h *Handler) Open() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.queue = nil
	h.wake = make(chan struct{}, 1)
	h.quit = make(chan struct{})
	h.done = make(chan struct{})

	go h.dispatchLoop()
}

// Close stops the dispatch loop and waits for it to exit. Deferred bundles
// still on the queue are discarded. Close is idempotent.
func (h *Handler) Close() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	heap.Push(&h.queue, &queuedBundle{timetag: osc.Immediately, seq: h.seq})
	h.seq++
	done := h.done
	h.mu.Unlock()

	close(h.quit)
	h.signalWake()
	<-done
}

// HandlePacket dispatches a single received packet.
//
// A message is delivered to every node matching its address, in preorder. A
// bundle whose time tag lies in the future is deferred onto the queue; any
// other bundle has its contents handled recursively with the original
// receive timestamp.
func (h *Handler) HandlePacket(p osc.Packet, rx osc.TimeTag) {
	switch pkt := p.(type) {
	case *osc.Message:
		for _, node := range h.space.Match(pkt.Address.Pattern) {
			node.Dispatch(pkt, rx)
			h.stats.IncDispatched()
		}
	case *osc.Bundle:
		if pkt.TimeTag.After(osc.Now()) {
			h.deferBundle(pkt, rx)
			return
		}
		for _, inner := range pkt.Packets {
			h.HandlePacket(inner, rx)
		}
	}
}

func (h *Handler) deferBundle(bundle *osc.Bundle, rx osc.TimeTag) {
	h.mu.Lock()
	heap.Push(&h.queue, &queuedBundle{
		timetag: bundle.TimeTag,
		rx:      rx,
		bundle:  bundle,
		seq:     h.seq,
	})
	h.seq++
	h.mu.Unlock()

	h.stats.IncDeferred()
	h.signalWake()
}

func (h *Handler) signalWake() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop consumes deferred bundles in time tag order, waiting out
// their delay with a timer rather than busy-waiting. It exits on the
// shutdown sentinel or when the handler is closed.
func (h *Handler) dispatchLoop() {
	defer close(h.done)

	for {
		h.mu.Lock()
		var item *queuedBundle
		if len(h.queue) > 0 {
			item = heap.Pop(&h.queue).(*queuedBundle)
		}
		running := h.running
		h.mu.Unlock()

		if !running {
			return
		}

		if item == nil {
			select {
			case <-h.wake:
				continue
			case <-h.quit:
				return
			}
		}

		if item.bundle == nil {
			// Shutdown sentinel.
			return
		}

		if delay := time.Until(item.timetag.Time()); delay > 0 {
			h.mu.Lock()
			heap.Push(&h.queue, item)
			h.mu.Unlock()

			timer := time.NewTimer(delay)
			select {
			case <-h.wake:
			case <-timer.C:
			case <-h.quit:
				timer.Stop()
				return
			}
			timer.Stop()
			continue
		}

		log.Debugf("dispatching deferred bundle scheduled for %v", item.timetag.Time())
		h.HandlePacket(item.bundle, item.rx)
	}
}
