package pack

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/ruleengine/catalog"
	"github.com/liamcoop/ruleengine/dispatch"
	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
	"github.com/liamcoop/ruleengine/table"
	"github.com/liamcoop/ruleengine/tools"
)

// ProviderName names the provider of pack functions bound to args.
const ProviderName = "pack"

// ErrRuleCycle is returned when rules use each other in a loop.
var ErrRuleCycle = errors.New("rules used form a cycle")

// Runtime is what serving rules needs: the catalog and its contexts, the
// function implementations, the tables, the engine and the products.
type Runtime struct {
	Catalog  *catalog.Catalog
	Contexts *catalog.Contexts
	Registry *dispatch.Registry
	Tables   *table.InMemoryStore
	Engine   *rules.Engine
	Products *offered.Manager
}

type options struct {
	clock     func() time.Time
	layout    string
	errors    []tools.ErrorDefinition
	providers []dispatch.Provider
	store     rules.RuleStore
	engine    []rules.Option
	products  []offered.Option
}

// Option configures how a runtime is assembled.
type Option func(*options)

// WithClock fixes the clock of the runtime tools.
func WithClock(now func() time.Time) Option { return func(o *options) { o.clock = now } }

// WithDateLayout sets the layout of date_as_string.
func WithDateLayout(layout string) Option { return func(o *options) { o.layout = layout } }

// WithErrorDefinitions adds functional errors to add_error_code.
func WithErrorDefinitions(defs ...tools.ErrorDefinition) Option {
	return func(o *options) { o.errors = append(o.errors, defs...) }
}

// WithProviders registers implementations after the built-in ones, so they
// win over them.
func WithProviders(ps ...dispatch.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, ps...) }
}

// WithRuleStore stores rules in s instead of memory.
func WithRuleStore(s rules.RuleStore) Option { return func(o *options) { o.store = s } }

// WithEngineOptions passes options to the rule engine.
func WithEngineOptions(opts ...rules.Option) Option {
	return func(o *options) { o.engine = append(o.engine, opts...) }
}

// WithProductOptions passes options to the product manager.
func WithProductOptions(opts ...offered.Option) Option {
	return func(o *options) { o.products = append(o.products, opts...) }
}

// Assemble wires the runtime tools, the offered accessors and the extra
// providers to an existing catalog and builds the engine over the rules of
// the store.
func Assemble(cat *catalog.Catalog, contexts *catalog.Contexts, opts ...Option) (*Runtime, error) {
	o := &options{clock: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = rules.NewInMemoryRuleStore()
	}

	toolOpts := []tools.Option{tools.WithClock(o.clock), tools.WithErrorDefinitions(o.errors...)}
	if o.layout != "" {
		toolOpts = append(toolOpts, tools.WithDateLayout(o.layout))
	}
	rt := tools.New(toolOpts...)
	registry := dispatch.NewRegistry()
	providers := append([]dispatch.Provider{rt.Provider(), offered.Provider()}, o.providers...)
	for _, p := range providers {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}

	tables := table.NewInMemoryStore()
	engineOpts := append([]rules.Option{rules.WithTables(tables)}, o.engine...)
	engine, err := rules.NewEngine(contexts, dispatch.NewBuilder(registry), o.store, engineOpts...)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Catalog:  cat,
		Contexts: contexts,
		Registry: registry,
		Tables:   tables,
		Engine:   engine,
		Products: offered.NewManager(engine, o.products...),
	}, nil
}

// Build validates p and loads it into a fresh runtime. The catalog is
// frozen once the pack is registered.
func Build(p *Pack, opts ...Option) (*Runtime, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pack: %w", err)
	}

	cat := catalog.New()
	refs, err := registerCatalog(cat, p)
	if err != nil {
		return nil, err
	}
	contexts := catalog.NewContexts()
	for _, c := range p.Contexts {
		allowed := make([]string, len(c.Allowed))
		for i, a := range c.Allowed {
			allowed[i] = refs[a]
		}
		cctx, err := catalog.NewContext(cat, c.ID, c.Name, allowed...)
		if err != nil {
			return nil, fmt.Errorf("context %s: %w", c.ID, err)
		}
		contexts.Put(cctx)
	}
	cat.Freeze()

	opts = append([]Option{WithErrorDefinitions(p.Errors...)}, opts...)
	if prov, ok := argProvider(p.Functions); ok {
		opts = append(opts, WithProviders(prov...))
	}
	rt, err := Assemble(cat, contexts, opts...)
	if err != nil {
		return nil, err
	}

	for _, t := range p.Tables {
		if err := rt.Tables.Put(t); err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Code, err)
		}
	}

	ordered, err := dependencyOrder(p.Rules)
	if err != nil {
		return nil, err
	}
	for _, r := range ordered {
		if err := rt.Engine.AddRule(r.Clone()); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}

	for _, prod := range p.Products {
		if err := rt.Products.Put(prod); err != nil {
			return nil, fmt.Errorf("product %s: %w", prod.Code, err)
		}
	}
	return rt, nil
}

// registerCatalog adds the built-in folders, the pack functions and the
// pack folders to cat. It returns the element id of every pack reference.
func registerCatalog(cat *catalog.Catalog, p *Pack) (map[string]string, error) {
	refs := make(map[string]string)

	rt := tools.New()
	id, err := rt.Register(cat)
	if err != nil {
		return nil, err
	}
	refs[RuntimeFolder] = id
	if refs[OfferedFolder], err = offered.Register(cat); err != nil {
		return nil, err
	}

	for _, f := range p.Functions {
		id, err := cat.Add(catalog.TreeElement{
			Kind:            catalog.KindFunction,
			Namespace:       f.Namespace,
			Name:            f.Name,
			TranslatedName:  f.TranslatedName,
			Description:     f.Description,
			LongDescription: f.LongDescription,
			Parameters:      f.Parameters,
		})
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Ref(), err)
		}
		refs[f.Ref()] = id
	}

	// Folders may list folders declared after them.
	pending := append([]Folder(nil), p.Folders...)
	for len(pending) > 0 {
		var next []Folder
		for _, f := range pending {
			children, ok := resolve(refs, f.Children)
			if !ok {
				next = append(next, f)
				continue
			}
			id, err := cat.Add(catalog.TreeElement{ID: f.ID, Kind: catalog.KindFolder, Description: f.Description, Children: children})
			if err != nil {
				return nil, fmt.Errorf("folder %s: %w", f.ID, err)
			}
			refs[f.ID] = id
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("folder %s: %w", next[0].ID, catalog.ErrCycleDetected)
		}
		pending = next
	}
	return refs, nil
}

func resolve(refs map[string]string, names []string) ([]string, bool) {
	ids := make([]string, len(names))
	for i, n := range names {
		id, ok := refs[n]
		if !ok {
			return nil, false
		}
		ids[i] = id
	}
	return ids, true
}

// dependencyOrder sorts rules so that every rule comes after the rules it
// uses.
func dependencyOrder(rs []*rules.Rule) ([]*rules.Rule, error) {
	out := make([]*rules.Rule, 0, len(rs))
	done := make(map[string]bool, len(rs))
	pending := rs
	for len(pending) > 0 {
		var next []*rules.Rule
		for _, r := range pending {
			ready := true
			for _, used := range r.RulesUsed {
				if !done[used] {
					ready = false
					break
				}
			}
			if !ready {
				next = append(next, r)
				continue
			}
			out = append(out, r)
			done[r.ID] = true
		}
		if len(next) == len(pending) {
			return nil, fmt.Errorf("rule %s: %w", next[0].ID, ErrRuleCycle)
		}
		pending = next
	}
	return out, nil
}

// argProvider implements the pack functions bound to an execution arg.
func argProvider(fns []Function) ([]dispatch.Provider, bool) {
	byNS := make(map[string]map[string]dispatch.Func)
	var order []string
	for _, f := range fns {
		if f.Arg == "" {
			continue
		}
		if byNS[f.Namespace] == nil {
			byNS[f.Namespace] = make(map[string]dispatch.Func)
			order = append(order, f.Namespace)
		}
		byNS[f.Namespace][f.Name] = argFunc(f.Arg, f.Type == DateType)
	}
	out := make([]dispatch.Provider, 0, len(order))
	for _, ns := range order {
		out = append(out, dispatch.Provider{Name: ProviderName, Namespace: ns, Funcs: byNS[ns]})
	}
	return out, len(out) > 0
}

// argFunc returns the arg at path. The first segment is the arg role; the
// others index nested objects. A missing field is None.
func argFunc(path string, date bool) dispatch.Func {
	role, fields, _ := strings.Cut(path, ".")
	return func(call *dispatch.Call, _ ...script.Value) (script.Value, error) {
		v, err := call.Arg(role)
		if err != nil {
			return script.None(), err
		}
		if fields != "" {
			for _, name := range strings.Split(fields, ".") {
				obj, ok := v.(map[string]any)
				if !ok {
					return script.None(), fmt.Errorf("%s is not an object", role)
				}
				if v, ok = obj[name]; !ok {
					return script.None(), nil
				}
			}
		}
		if s, ok := v.(string); ok && date {
			return script.ParseDate(s)
		}
		return script.FromInterface(v)
	}
}
