package space

import (
	"fmt"
	"sync"

	"github.com/dnaka91/go-oscdispatch/osc"
)

// MessageEvent is the payload of the space-level message broadcast, fired
// whenever a received message is dispatched to a node.
type MessageEvent struct {
	// Address is the absolute address of the node that matched.
	Address osc.Address
	// Message is the received message.
	Message *osc.Message
	// TimeTag is the timestamp of when the message was received.
	TimeTag osc.TimeTag
}

// AddressSpace is a container for root nodes, the entry point for node
// lookup, pattern matching and the message broadcast.
type AddressSpace struct {
	roots map[string]*AddressNode
	order []string

	mu   sync.Mutex
	subs []chan MessageEvent
}

// NewAddressSpace creates an empty address space.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{roots: make(map[string]*AddressNode)}
}

// Len returns the number of root nodes.
func (sp *AddressSpace) Len() int { return len(sp.roots) }

// Root returns the root node with the given name, or nil.
func (sp *AddressSpace) Root(name string) *AddressNode {
	return sp.roots[name]
}

// Roots returns the root nodes in insertion order.
func (sp *AddressSpace) Roots() []*AddressNode {
	roots := make([]*AddressNode, 0, len(sp.order))
	for _, name := range sp.order {
		roots = append(roots, sp.roots[name])
	}

	return roots
}

// AddRoot creates a root node of the given name and kind, or returns the
// existing root of that name. An existing root with a different kind fails
// with ErrDuplicate.
func (sp *AddressSpace) AddRoot(name, kind string) (*AddressNode, error) {
	if root, ok := sp.roots[name]; ok {
		if root.kind != kind {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		return root, nil
	}

	root := NewNodeOfKind(name, kind)
	sp.attachRoot(root)

	return root, nil
}

// AddRootInstance adds an existing node as a root, detaching it from any
// previous parent or space. A root of the same name fails with ErrDuplicate.
func (sp *AddressSpace) AddRootInstance(node *AddressNode) error {
	if _, ok := sp.roots[node.name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, node.name)
	}

	if err := node.SetParent(nil); err != nil {
		return err
	}
	if node.space != nil {
		node.space.removeRoot(node.name)
	}
	sp.attachRoot(node)

	return nil
}

func (sp *AddressSpace) attachRoot(node *AddressNode) {
	node.space = sp
	sp.roots[node.name] = node
	sp.order = append(sp.order, node.name)
}

func (sp *AddressSpace) removeRoot(name string) {
	delete(sp.roots, name)
	for i, s := range sp.order {
		if s == name {
			sp.order = append(sp.order[:i], sp.order[i+1:]...)
			break
		}
	}
}

// CreateFromAddress walks the given address, creating missing nodes, and
// returns the root and the final node. Root creation honours the given
// kind; descendants inherit it.
func (sp *AddressSpace) CreateFromAddress(pattern, kind string) (*AddressNode, *AddressNode, error) {
	address := osc.NewAddress(pattern)
	if address.Len() == 0 {
		return nil, nil, ErrEmptyAddress
	}

	rootName := address.At(0).Name()
	root, ok := sp.roots[rootName]
	if ok {
		if root.kind != kind {
			return nil, nil, fmt.Errorf("%w: %q", ErrDuplicate, rootName)
		}
	} else {
		root = NewNodeOfKind(rootName, kind)
		sp.attachRoot(root)
	}

	leaf, err := root.CreateChildrenFromAddress(address.Slice(1, address.Len()))
	if err != nil {
		return nil, nil, err
	}

	return root, leaf, nil
}

// Find performs an exact structural lookup of the given concrete address.
// It returns nil on any missing segment.
func (sp *AddressSpace) Find(pattern string) *AddressNode {
	address := osc.NewAddress(pattern)
	if address.Len() == 0 {
		return nil
	}

	node := sp.roots[address.At(0).Name()]
	for i := 1; node != nil && i < address.Len(); i++ {
		node = node.Child(address.At(i).Name())
	}

	return node
}

// Match returns every node whose absolute address matches the given pattern
// under OSC matching rules. Traversal is depth-first, preorder, stable in
// insertion order of siblings.
func (sp *AddressSpace) Match(pattern string) []*AddressNode {
	address := osc.NewAddress(pattern)

	var matched []*AddressNode
	sp.Walk(func(n *AddressNode) bool {
		ok, err := address.Match(n.Address())
		if err == nil && ok {
			matched = append(matched, n)
		}
		return true
	})

	return matched
}

// Walk visits all root nodes and their descendants depth-first in preorder.
// The visitor returns false to stop the traversal.
func (sp *AddressSpace) Walk(visit func(*AddressNode) bool) {
	for _, root := range sp.Roots() {
		if !root.Walk(visit) {
			return
		}
	}
}

// Subscribe registers a subscriber on the message broadcast and returns its
// channel. The channel is buffered with the given size; when a subscriber
// falls behind, the oldest pending event is dropped in favour of the new
// one.
func (sp *AddressSpace) Subscribe(buffer int) <-chan MessageEvent {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan MessageEvent, buffer)

	sp.mu.Lock()
	sp.subs = append(sp.subs, ch)
	sp.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber obtained from Subscribe and closes its
// channel.
func (sp *AddressSpace) Unsubscribe(ch <-chan MessageEvent) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for i, sub := range sp.subs {
		if sub == ch {
			sp.subs = append(sp.subs[:i], sp.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// emit fans the event out to all subscribers without blocking.
func (sp *AddressSpace) emit(ev MessageEvent) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	for _, sub := range sp.subs {
		for {
			select {
			case sub <- ev:
			default:
				// Full subscriber, drop its oldest pending event.
				select {
				case <-sub:
				default:
				}
				continue
			}
			break
		}
	}
}
