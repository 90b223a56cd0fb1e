// Package space implements the OSC address space: a tree of named nodes
// that received messages are dispatched to, using OSC pattern matching.
package space

import (
	"errors"
	"fmt"

	"github.com/dnaka91/go-oscdispatch/osc"
)

// Possible errors while manipulating the node tree.
var (
	ErrDuplicate    = errors.New("node name already exists")
	ErrNotRoot      = errors.New("only root nodes can belong to an address space")
	ErrEmptyAddress = errors.New("address contains no parts")
)

// Callback handles a single message dispatched to a node. The timetag is the
// timestamp of when the message was received, not the time tag of any
// containing bundle.
type Callback func(node *AddressNode, msg *osc.Message, timetag osc.TimeTag)

// CallbackHandle identifies a registered callback so it can be removed
// again.
type CallbackHandle struct {
	node *AddressNode
	fn   Callback
}

// AddressNode is a node within an OSC address space. Nodes own their
// children and hold a non-owning reference to their parent.
type AddressNode struct {
	name string
	kind string

	parent   *AddressNode
	children map[string]*AddressNode
	order    []string

	// space is set on root nodes only; descendants resolve it through the
	// root.
	space *AddressSpace

	cachedAddress *osc.Address
	callbacks     []*CallbackHandle
}

// NewNode creates a detached node with the default kind.
func NewNode(name string) *AddressNode {
	return NewNodeOfKind(name, "")
}

// NewNodeOfKind creates a detached node with an explicit kind. The kind is
// an opaque label; nodes of different kinds never share a name within one
// parent or space.
func NewNodeOfKind(name, kind string) *AddressNode {
	return &AddressNode{
		name:     name,
		kind:     kind,
		children: make(map[string]*AddressNode),
	}
}

// Name returns the node name.
func (n *AddressNode) Name() string { return n.name }

// Kind returns the node kind label.
func (n *AddressNode) Kind() string { return n.kind }

// Parent returns the parent node, or nil if this is a root.
func (n *AddressNode) Parent() *AddressNode { return n.parent }

// IsRoot reports whether the node has no parent.
func (n *AddressNode) IsRoot() bool { return n.parent == nil }

// Root returns the root node of the tree.
func (n *AddressNode) Root() *AddressNode {
	if n.parent == nil {
		return n
	}

	return n.parent.Root()
}

// AddressSpace returns the space owning the node's tree, or nil if the root
// is detached.
func (n *AddressNode) AddressSpace() *AddressSpace {
	return n.Root().space
}

// SetAddressSpace moves a root node into the given space, detaching it from
// its previous one. Setting the space on a non-root fails with ErrNotRoot.
func (n *AddressNode) SetAddressSpace(sp *AddressSpace) error {
	if !n.IsRoot() {
		return ErrNotRoot
	}
	if n.space == sp {
		return nil
	}
	if n.space != nil {
		n.space.removeRoot(n.name)
		n.space = nil
	}
	if sp != nil {
		return sp.AddRootInstance(n)
	}

	return nil
}

// Address returns the full OSC address of the node. The value is memoised
// and invalidated when the node or any ancestor is re-parented.
func (n *AddressNode) Address() osc.Address {
	if n.cachedAddress != nil {
		return *n.cachedAddress
	}

	var addr osc.Address
	if n.IsRoot() {
		addr = osc.NewAddress("/" + n.name)
	} else {
		addr, _ = n.parent.Address().Join(n.name)
	}
	n.cachedAddress = &addr

	return addr
}

// PartIndex returns the index of the node's part within its address.
func (n *AddressNode) PartIndex() int {
	return n.Address().Len() - 1
}

// invalidate clears the memoised address of the node and all descendants.
// Called on every re-parent of the node or an ancestor.
func (n *AddressNode) invalidate() {
	n.cachedAddress = nil
	for _, child := range n.Children() {
		child.invalidate()
	}
}

// SetParent re-parents the node, moving its entire subtree. It fails with
// ErrDuplicate if the new parent already contains a child of the same name.
func (n *AddressNode) SetParent(parent *AddressNode) error {
	if parent == n.parent {
		return nil
	}
	if parent != nil {
		if _, ok := parent.children[n.name]; ok {
			return fmt.Errorf("%w: %q in %q", ErrDuplicate, n.name, parent.Address().Pattern)
		}
	}

	if n.parent != nil {
		n.parent.removeChild(n.name)
	}
	if n.space != nil && parent != nil {
		// A former root that gains a parent leaves its space.
		n.space.removeRoot(n.name)
		n.space = nil
	}

	n.parent = parent
	if parent != nil {
		parent.children[n.name] = n
		parent.order = append(parent.order, n.name)
	}
	n.invalidate()

	return nil
}

func (n *AddressNode) removeChild(name string) {
	delete(n.children, name)
	for i, s := range n.order {
		if s == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
}

// Child returns the child with the given name, or nil.
func (n *AddressNode) Child(name string) *AddressNode {
	return n.children[name]
}

// Children returns the child nodes in insertion order.
func (n *AddressNode) Children() []*AddressNode {
	children := make([]*AddressNode, 0, len(n.order))
	for _, name := range n.order {
		children = append(children, n.children[name])
	}

	return children
}

// Len returns the number of direct children.
func (n *AddressNode) Len() int { return len(n.children) }

// AddChild creates a child node of the given name, inheriting the node's
// kind, or returns the existing child of that name.
func (n *AddressNode) AddChild(name string) (*AddressNode, error) {
	if child, ok := n.children[name]; ok {
		if child.kind != n.kind {
			return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		return child, nil
	}

	child := NewNodeOfKind(name, n.kind)
	child.parent = n
	n.children[name] = child
	n.order = append(n.order, name)

	return child, nil
}

// AddChildInstance attaches an existing node as a child, moving it and its
// subtree. It fails with ErrDuplicate if a different node of the same name
// is already a child, or if the node's kind differs from this node's kind.
func (n *AddressNode) AddChildInstance(child *AddressNode) error {
	if existing, ok := n.children[child.name]; ok {
		if existing != child {
			return fmt.Errorf("%w: %q", ErrDuplicate, child.name)
		}
		return nil
	}
	if child.kind != n.kind {
		return fmt.Errorf("%w: %q", ErrDuplicate, child.name)
	}

	return child.SetParent(n)
}

// CreateChildrenFromAddress walks the given relative address, creating
// missing nodes, and returns the final node.
func (n *AddressNode) CreateChildrenFromAddress(address osc.Address) (*AddressNode, error) {
	if address.Len() == 0 {
		return n, nil
	}

	child, err := n.AddChild(address.At(0).Name())
	if err != nil {
		return nil, err
	}

	return child.CreateChildrenFromAddress(address.Slice(1, address.Len()))
}

// Walk visits the node and all descendants depth-first in preorder. The
// visitor returns false to stop the traversal.
func (n *AddressNode) Walk(visit func(*AddressNode) bool) bool {
	if !visit(n) {
		return false
	}
	for _, child := range n.Children() {
		if !child.Walk(visit) {
			return false
		}
	}

	return true
}

// AddCallback registers a handler on the node and returns a handle for
// later removal.
func (n *AddressNode) AddCallback(fn Callback) *CallbackHandle {
	h := &CallbackHandle{node: n, fn: fn}
	n.callbacks = append(n.callbacks, h)

	return h
}

// RemoveCallback removes a previously registered handler.
func (n *AddressNode) RemoveCallback(h *CallbackHandle) {
	for i, cb := range n.callbacks {
		if cb == h {
			n.callbacks = append(n.callbacks[:i], n.callbacks[i+1:]...)
			return
		}
	}
}

// HasCallbacks reports whether any handlers are registered on the node.
func (n *AddressNode) HasCallbacks() bool { return len(n.callbacks) > 0 }

// Dispatch fires all registered callbacks with the given message and emits
// the space-level message event. Callbacks run over a snapshot, so a
// callback removing itself does not break the iteration; a panicking
// callback is trapped and does not abort the remaining ones.
func (n *AddressNode) Dispatch(msg *osc.Message, timetag osc.TimeTag) {
	callbacks := make([]*CallbackHandle, len(n.callbacks))
	copy(callbacks, n.callbacks)
	for _, h := range callbacks {
		func() {
			defer func() { _ = recover() }()
			h.fn(n, msg, timetag)
		}()
	}

	if sp := n.AddressSpace(); sp != nil {
		sp.emit(MessageEvent{Address: n.Address(), Message: msg, TimeTag: timetag})
	}
}

// CreateMessage creates a message addressed at this node.
func (n *AddressNode) CreateMessage(values ...any) (*osc.Message, error) {
	return osc.NewMessage(n.Address().Pattern, values...)
}

// CreateBundledMessage creates a bundle with the given time tag containing
// a single message addressed at this node.
func (n *AddressNode) CreateBundledMessage(timetag osc.TimeTag, values ...any) (*osc.Bundle, error) {
	msg, err := n.CreateMessage(values...)
	if err != nil {
		return nil, err
	}

	bun := osc.NewBundle(timetag)
	bun.AddPacket(msg)

	return bun, nil
}

func (n *AddressNode) String() string {
	return n.Address().Pattern
}
