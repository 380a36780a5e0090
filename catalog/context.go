package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liamcoop/ruleengine/script"
)

// Context is a named whitelist over a catalog. Rules bound to it may call the
// functions reachable from its allowed elements.
type Context struct {
	ID   string
	Name string

	catalog *Catalog

	mu      sync.RWMutex
	allowed []string
	version uint64
	flat    *flattened
}

type flattened struct {
	catalogVersion uint64
	version        uint64
	refs           []Ref
	elements       map[string]TreeElement
	namesErr       error
}

// NewContext returns a context over cat allowing the given elements.
func NewContext(cat *Catalog, id, name string, allowed ...string) (*Context, error) {
	c := &Context{ID: id, Name: name, catalog: cat}
	if err := c.SetAllowed(allowed...); err != nil {
		return nil, err
	}
	return c, nil
}

// Catalog returns the catalog the context reads from.
func (c *Context) Catalog() *Catalog { return c.catalog }

// SetAllowed replaces the allowed elements.
func (c *Context) SetAllowed(ids ...string) error {
	if err := c.check(ids); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = dedupe(nil, ids)
	c.version++
	return nil
}

// Allow adds elements to the whitelist.
func (c *Context) Allow(ids ...string) error {
	if err := c.check(ids); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = dedupe(c.allowed, ids)
	c.version++
	return nil
}

// Allowed returns the allowed element ids.
func (c *Context) Allowed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.allowed...)
}

func (c *Context) check(ids []string) error {
	for _, id := range ids {
		if _, err := c.catalog.Get(id); err != nil {
			return fmt.Errorf("context %s: %w", c.Name, err)
		}
	}
	return nil
}

func dedupe(into, ids []string) []string {
	seen := make(map[string]bool, len(into)+len(ids))
	for _, id := range into {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			into = append(into, id)
		}
	}
	return into
}

// Flatten expands folders into the set of reachable functions, sorted by
// namespace then name. The result is cached until the whitelist or the
// catalog changes.
func (c *Context) Flatten() []Ref {
	f := c.flatten()
	return append([]Ref(nil), f.refs...)
}

// Names maps every identifier rule code may call to its function. Two
// functions sharing an identifier make the context unusable and yield
// ErrDuplicateName.
func (c *Context) Names() (map[string]TreeElement, error) {
	f := c.flatten()
	if f.namesErr != nil {
		return nil, f.namesErr
	}
	out := make(map[string]TreeElement, len(f.elements))
	for k, v := range f.elements {
		out[k] = v.clone()
	}
	return out, nil
}

// AllowedNames returns the identifiers as a set for the compiler.
func (c *Context) AllowedNames() (script.NameSet, error) {
	names, err := c.Names()
	if err != nil {
		return nil, err
	}
	set := script.NewNameSet()
	for n := range names {
		set.Add(n)
	}
	return set, nil
}

func (c *Context) flatten() *flattened {
	catVersion := c.catalog.Version()

	c.mu.RLock()
	f := c.flat
	version := c.version
	c.mu.RUnlock()
	if f != nil && f.catalogVersion == catVersion && f.version == version {
		return f
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flat != nil && c.flat.catalogVersion == catVersion && c.flat.version == c.version {
		return c.flat
	}

	f = &flattened{
		catalogVersion: catVersion,
		version:        c.version,
		elements:       make(map[string]TreeElement),
	}
	c.catalog.mu.RLock()
	c.catalog.expand(c.allowed, func(e *TreeElement) {
		f.refs = append(f.refs, e.Ref())
		id := e.Identifier()
		if prev, dup := f.elements[id]; dup && f.namesErr == nil {
			f.namesErr = fmt.Errorf("%w: %q is both %s and %s", ErrDuplicateName, id, prev.Ref(), e.Ref())
		}
		f.elements[id] = e.clone()
	})
	c.catalog.mu.RUnlock()

	sort.Slice(f.refs, func(i, j int) bool {
		if f.refs[i].Namespace != f.refs[j].Namespace {
			return f.refs[i].Namespace < f.refs[j].Namespace
		}
		return f.refs[i].Name < f.refs[j].Name
	})
	c.flat = f
	return f
}

// Node is one entry of the documentation tree of a context.
type Node struct {
	Element  TreeElement `json:"element"`
	Children []Node      `json:"children,omitempty"`
}

// Tree renders the allowed elements with their folders expanded.
func (c *Context) Tree() []Node {
	allowed := c.Allowed()

	c.catalog.mu.RLock()
	defer c.catalog.mu.RUnlock()

	var build func(id string) (Node, bool)
	build = func(id string) (Node, bool) {
		e, ok := c.catalog.elements[id]
		if !ok {
			return Node{}, false
		}
		n := Node{Element: e.clone()}
		for _, child := range e.Children {
			if cn, ok := build(child); ok {
				n.Children = append(n.Children, cn)
			}
		}
		return n, true
	}

	nodes := make([]Node, 0, len(allowed))
	for _, id := range allowed {
		if n, ok := build(id); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Contexts indexes contexts by id.
type Contexts struct {
	mu   sync.RWMutex
	byID map[string]*Context
}

// NewContexts returns an index holding cs.
func NewContexts(cs ...*Context) *Contexts {
	s := &Contexts{byID: make(map[string]*Context, len(cs))}
	for _, c := range cs {
		s.byID[c.ID] = c
	}
	return s
}

// Put adds or replaces c.
func (s *Contexts) Put(c *Context) {
	s.mu.Lock()
	s.byID[c.ID] = c
	s.mu.Unlock()
}

// Context returns the context with the given id.
func (s *Contexts) Context(id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContext, id)
	}
	return c, nil
}

// List returns the contexts sorted by name.
func (s *Contexts) List() []*Context {
	s.mu.RLock()
	out := make([]*Context, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
