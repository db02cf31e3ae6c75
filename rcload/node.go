package rcload

import (
	"encoding/json"
	"sync"
)

// Loadable is the contract every tree node must satisfy to participate
// in a load cycle. The capability set is explicit: nodes with nothing
// to fetch embed NoopHandlers and let its no-op defaults answer for
// them, instead of the engine probing for optional methods.
type Loadable interface {
	// UniqueKey returns the entity's stable identity.
	UniqueKey() string
	// CacheKey returns the entity's stable cache key. Implementations
	// memoize it for the object's lifetime.
	CacheKey() string
	// Parent returns the owning entity, or nil at the root. The
	// back-pointer is weak; the child does not own its parent.
	Parent() Loadable
	// Children returns the owned child entities in order.
	Children() []Loadable
	// Settings returns the entity's loading settings block.
	Settings() *Settings

	// LoadEndpoint returns the entity's remote endpoint descriptor(s),
	// or nil when the entity has nothing of its own to fetch.
	LoadEndpoint() []EndpointVariant
	// LoadPayload returns the call parameters, or nil to suppress the
	// remote call even when an endpoint is declared.
	LoadPayload() map[string]any

	// PopulateFromCache restores the entity from a cached snapshot.
	PopulateFromCache(payload []byte) error
	// CacheBody returns the value to snapshot into the cache after a
	// successful load.
	CacheBody() (any, error)

	HandleLoadResponse(raw json.RawMessage) error
	HandleCreateResponse(raw json.RawMessage) error
	HandleUpdateResponse(raw json.RawMessage) error
	HandleDeleteResponse(raw json.RawMessage) error
	HandleSynchronizeResponse(raw json.RawMessage) error
}

// CompletionListener is an optional capability for nodes that want to
// observe their own completion, e.g. to release resources or notify
// domain listeners once the subtree settled.
type CompletionListener interface {
	LoadCompleted(success, fromCache bool)
}

// NoopHandlers provides default no-op implementations of the optional
// Loadable capabilities. Aggregator entities (no remote call of their
// own) typically embed it and override nothing.
type NoopHandlers struct{}

// LoadEndpoint returns nil: no remote call.
func (NoopHandlers) LoadEndpoint() []EndpointVariant { return nil }

// LoadPayload returns nil: no call parameters.
func (NoopHandlers) LoadPayload() map[string]any { return nil }

// PopulateFromCache ignores the snapshot.
func (NoopHandlers) PopulateFromCache([]byte) error { return nil }

// CacheBody returns nothing to snapshot.
func (NoopHandlers) CacheBody() (any, error) { return nil, nil }

// HandleLoadResponse ignores the response.
func (NoopHandlers) HandleLoadResponse(json.RawMessage) error { return nil }

// HandleCreateResponse ignores the response.
func (NoopHandlers) HandleCreateResponse(json.RawMessage) error { return nil }

// HandleUpdateResponse ignores the response.
func (NoopHandlers) HandleUpdateResponse(json.RawMessage) error { return nil }

// HandleDeleteResponse ignores the response.
func (NoopHandlers) HandleDeleteResponse(json.RawMessage) error { return nil }

// HandleSynchronizeResponse ignores the response.
func (NoopHandlers) HandleSynchronizeResponse(json.RawMessage) error { return nil }

// BaseNode supplies the structural half of Loadable: identity, parent
// and child linkage, loading settings and the memoized cache key.
// Domain entities embed it alongside NoopHandlers and override the
// capabilities they actually have.
type BaseNode struct {
	unique   string
	parent   Loadable
	children []Loadable
	settings Settings

	keyOnce sync.Once
	key     string
}

// NewBaseNode creates a node with the given stable unique key.
func NewBaseNode(uniqueKey string) BaseNode {
	return BaseNode{unique: uniqueKey}
}

// UniqueKey returns the node's stable identity.
func (n *BaseNode) UniqueKey() string { return n.unique }

// CacheKey returns the node's cache key, computed once from its own
// unique key and memoized for the object's lifetime. Children's keys
// deliberately do not participate; see the package documentation.
func (n *BaseNode) CacheKey() string {
	n.keyOnce.Do(func() {
		n.key = n.unique
	})
	return n.key
}

// Parent returns the owning node, or nil.
func (n *BaseNode) Parent() Loadable { return n.parent }

// SetParent installs the weak back-pointer to the owning node.
func (n *BaseNode) SetParent(parent Loadable) { n.parent = parent }

// Children returns the owned children in insertion order.
func (n *BaseNode) Children() []Loadable { return n.children }

// AddChild appends child and, when self is given, wires the child's
// back-pointer to it. self must be the embedding entity, not the
// BaseNode itself.
func (n *BaseNode) AddChild(self Loadable, child Loadable) {
	n.children = append(n.children, child)
	if base, ok := child.(interface{ SetParent(Loadable) }); ok && self != nil {
		base.SetParent(self)
	}
}

// Settings returns the node's loading settings block.
func (n *BaseNode) Settings() *Settings { return &n.settings }
