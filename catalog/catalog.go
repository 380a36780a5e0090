// Package catalog holds the registry of capabilities rule code may call and
// the contexts that whitelist them.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Kind distinguishes callable functions from folders grouping them.
type Kind string

const (
	KindFunction Kind = "function"
	KindFolder   Kind = "folder"
)

// Ref identifies a function capability.
type Ref struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (r Ref) String() string { return r.Namespace + "." + r.Name }

// TreeElement is one catalog entry.
type TreeElement struct {
	ID              string   `json:"id" yaml:"id"`
	Kind            Kind     `json:"kind" yaml:"kind"`
	Namespace       string   `json:"namespace,omitempty" yaml:"namespace"`
	Name            string   `json:"name,omitempty" yaml:"name"`
	TranslatedName  string   `json:"translated_name,omitempty" yaml:"translated_name"`
	Description     string   `json:"description" yaml:"description"`
	LongDescription string   `json:"long_description,omitempty" yaml:"long_description"`
	Parameters      []string `json:"parameters,omitempty" yaml:"parameters"`
	Children        []string `json:"children,omitempty" yaml:"children"`
}

// Ref returns the function reference of e.
func (e TreeElement) Ref() Ref { return Ref{Namespace: e.Namespace, Name: e.Name} }

// Identifier is the name rule code uses to call the function.
func (e TreeElement) Identifier() string {
	if e.TranslatedName != "" {
		return e.TranslatedName
	}
	return e.Name
}

func (e TreeElement) clone() TreeElement {
	e.Parameters = append([]string(nil), e.Parameters...)
	e.Children = append([]string(nil), e.Children...)
	return e
}

// Catalog is the registry of tree elements. Reads are safe for concurrent
// use; mutations are expected during startup and administration only.
type Catalog struct {
	mu       sync.RWMutex
	elements map[string]*TreeElement
	byRef    map[Ref]string
	version  uint64
	frozen   bool
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		elements: make(map[string]*TreeElement),
		byRef:    make(map[Ref]string),
	}
}

// Register adds a function or an empty folder and returns its id.
func (c *Catalog) Register(kind Kind, namespace, name, description string, parameters []string) (string, error) {
	return c.Add(TreeElement{
		Kind:        kind,
		Namespace:   namespace,
		Name:        name,
		Description: description,
		Parameters:  parameters,
	})
}

// Add inserts a fully described element. An empty ID gets a fresh uuid.
// Children of a folder must already be registered.
func (c *Catalog) Add(e TreeElement) (string, error) {
	e = e.clone()
	switch e.Kind {
	case KindFunction:
		if err := validateNamespace(e.Namespace); err != nil {
			return "", err
		}
		if err := ValidateIdentifier(e.Name); err != nil {
			return "", err
		}
		if e.TranslatedName != "" {
			if err := ValidateIdentifier(e.TranslatedName); err != nil {
				return "", err
			}
		}
		if len(e.Children) > 0 {
			return "", fmt.Errorf("function %s cannot have children", e.Ref())
		}
	case KindFolder:
		if len(e.Parameters) > 0 {
			return "", fmt.Errorf("folder %q cannot declare parameters", e.Description)
		}
	default:
		return "", fmt.Errorf("unknown element kind %q", e.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return "", ErrCatalogFrozen
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := c.elements[e.ID]; exists {
		return "", fmt.Errorf("element with ID %s already exists", e.ID)
	}
	if e.Kind == KindFunction {
		if _, exists := c.byRef[e.Ref()]; exists {
			return "", fmt.Errorf("%w: %s", ErrDuplicateCapability, e.Ref())
		}
	}
	for _, child := range e.Children {
		if child == e.ID {
			return "", fmt.Errorf("%w: folder %s contains itself", ErrCycleDetected, e.ID)
		}
		if _, ok := c.elements[child]; !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownElement, child)
		}
	}

	c.elements[e.ID] = &e
	if e.Kind == KindFunction {
		c.byRef[e.Ref()] = e.ID
	}
	c.version++
	return e.ID, nil
}

// ComposeFolder creates a folder holding children, in order.
func (c *Catalog) ComposeFolder(description string, children ...string) (string, error) {
	id, err := c.Add(TreeElement{Kind: KindFolder, Description: description})
	if err != nil {
		return "", err
	}
	if err := c.AddChildren(id, children...); err != nil {
		c.mu.Lock()
		delete(c.elements, id)
		c.mu.Unlock()
		return "", err
	}
	return id, nil
}

// AddChildren appends children to an existing folder. Nothing is changed if
// any child is unknown or would make the folder reach itself.
func (c *Catalog) AddChildren(folderID string, children ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return ErrCatalogFrozen
	}
	folder, ok := c.elements[folderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, folderID)
	}
	if folder.Kind != KindFolder {
		return fmt.Errorf("%w: %s", ErrNotFolder, folderID)
	}
	for _, child := range children {
		if _, ok := c.elements[child]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownElement, child)
		}
		if c.reaches(child, folderID) {
			return fmt.Errorf("%w: adding %s to folder %s", ErrCycleDetected, child, folderID)
		}
	}

	folder.Children = append(folder.Children, children...)
	c.version++
	return nil
}

// reaches reports whether target is from or a descendant of from. Callers
// hold c.mu.
func (c *Catalog) reaches(from, target string) bool {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := c.elements[id]; ok {
			stack = append(stack, e.Children...)
		}
	}
	return false
}

// Get returns a copy of the element with the given id.
func (c *Catalog) Get(id string) (TreeElement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.elements[id]
	if !ok {
		return TreeElement{}, fmt.Errorf("%w: %s", ErrUnknownElement, id)
	}
	return e.clone(), nil
}

// Lookup finds a function by namespace and name.
func (c *Catalog) Lookup(namespace, name string) (TreeElement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byRef[Ref{Namespace: namespace, Name: name}]
	if !ok {
		return TreeElement{}, false
	}
	return c.elements[id].clone(), true
}

// Functions lists every function, sorted by namespace then name.
func (c *Catalog) Functions() []TreeElement {
	c.mu.RLock()
	out := make([]TreeElement, 0, len(c.byRef))
	for _, id := range c.byRef {
		out = append(out, c.elements[id].clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Namespace != out[j].Namespace {
			return out[i].Namespace < out[j].Namespace
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of elements.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.elements)
}

// Version increases with every mutation.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Freeze rejects any later mutation with ErrCatalogFrozen.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// expand walks ids depth first and collects the reachable functions. Callers
// hold c.mu.
func (c *Catalog) expand(ids []string, visit func(*TreeElement)) {
	seen := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		e, ok := c.elements[id]
		if !ok {
			return
		}
		if e.Kind == KindFunction {
			visit(e)
			return
		}
		for _, child := range e.Children {
			walk(child)
		}
	}
	for _, id := range ids {
		walk(id)
	}
}
