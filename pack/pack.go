// Package pack loads rule packs: YAML documents describing catalog
// functions, folders, contexts, lookup tables, rules with their test cases
// and offered products. A pack directory is the union of its files.
package pack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/liamcoop/ruleengine/offered"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/table"
	"github.com/liamcoop/ruleengine/tools"
)

// MaxFileSize bounds a single pack file.
const MaxFileSize = 4 << 20

// Built-in folder names usable in children and allowed lists.
const (
	RuntimeFolder = "runtime"
	OfferedFolder = "offered"
)

// DateType marks arg functions returning dates.
const DateType = "date"

// Extensions read from pack directories.
var Extensions = []string{".yaml", ".yml"}

// Function declares a catalog function. When Arg is set the pack provides
// the implementation: it returns the execution arg at that dotted path
// ("subscriber.birthdate"). Type "date" parses string args as dates.
type Function struct {
	Namespace       string   `yaml:"namespace"`
	Name            string   `yaml:"name"`
	TranslatedName  string   `yaml:"translated_name,omitempty"`
	Description     string   `yaml:"description"`
	LongDescription string   `yaml:"long_description,omitempty"`
	Parameters      []string `yaml:"parameters,omitempty"`
	Arg             string   `yaml:"arg,omitempty"`
	Type            string   `yaml:"type,omitempty"`
}

// Ref is the reference other pack entries use for the function.
func (f Function) Ref() string { return f.Namespace + "." + f.Name }

// Folder groups functions and folders. Children are folder ids, built-in
// folder names or function refs.
type Folder struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Children    []string `yaml:"children"`
}

// Context whitelists folders and functions for the rules bound to it.
type Context struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Allowed []string `yaml:"allowed"`
}

// Pack is the content of one or more pack files.
type Pack struct {
	Functions []Function              `yaml:"functions,omitempty"`
	Folders   []Folder                `yaml:"folders,omitempty"`
	Contexts  []Context               `yaml:"contexts,omitempty"`
	Errors    []tools.ErrorDefinition `yaml:"error_definitions,omitempty"`
	Tables    []*table.Table          `yaml:"tables,omitempty"`
	Rules     []*rules.Rule           `yaml:"rules,omitempty"`
	Products  []offered.Product       `yaml:"products,omitempty"`
}

// FileError locates a pack file that could not be read or parsed.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// Parse decodes one pack document. Unknown fields are rejected.
func Parse(r io.Reader) (*Pack, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Pack
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, err
	}
	return &p, nil
}

// Load reads a pack file, or every pack file below a directory in lexical
// order.
func Load(path string) (*Pack, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	files, err := collect(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &FileError{Path: path, Err: errors.New("no pack files found in directory")}
	}

	p := &Pack{}
	for _, f := range files {
		part, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		p.Merge(part)
	}
	return p, nil
}

func loadFile(path string) (*Pack, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &FileError{Path: path, Err: errors.New("not a regular file")}
	}
	if info.Size() > MaxFileSize {
		return nil, &FileError{Path: path, Err: fmt.Errorf("file size %d bytes exceeds maximum %d bytes", info.Size(), MaxFileSize)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	p, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &FileError{Path: path, Err: err}
	}
	return p, nil
}

// collect lists pack files below dir, skipping hidden entries.
func collect(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && HasExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &FileError{Path: dir, Err: err}
	}
	sort.Strings(files)
	return files, nil
}

// HasExtension reports whether path names a pack file.
func HasExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Merge appends the entries of o to p.
func (p *Pack) Merge(o *Pack) {
	p.Functions = append(p.Functions, o.Functions...)
	p.Folders = append(p.Folders, o.Folders...)
	p.Contexts = append(p.Contexts, o.Contexts...)
	p.Errors = append(p.Errors, o.Errors...)
	p.Tables = append(p.Tables, o.Tables...)
	p.Rules = append(p.Rules, o.Rules...)
	p.Products = append(p.Products, o.Products...)
}

// Rule returns the rule with the given id or short name.
func (p *Pack) Rule(ref string) (*rules.Rule, bool) {
	for _, r := range p.Rules {
		if r.ID == ref || r.ShortName == ref {
			return r, true
		}
	}
	return nil, false
}

// Validate checks references between pack entries. Rule code, tables and
// products are checked when the pack is built.
func (p *Pack) Validate() error {
	var errs []error
	seen := map[string]string{RuntimeFolder: "built-in folder", OfferedFolder: "built-in folder"}
	claim := func(key, what string) {
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s %q already declared as %s", what, key, prev))
			return
		}
		seen[key] = what
	}

	for _, f := range p.Functions {
		claim(f.Ref(), "function")
		if f.Type != "" && f.Type != DateType {
			errs = append(errs, fmt.Errorf("function %s: unknown type %q", f.Ref(), f.Type))
		}
	}
	for _, f := range p.Folders {
		if f.ID == "" {
			errs = append(errs, errors.New("folder without id"))
			continue
		}
		claim(f.ID, "folder")
	}
	for _, f := range p.Folders {
		for _, c := range f.Children {
			if _, ok := seen[c]; !ok {
				errs = append(errs, fmt.Errorf("folder %s: unknown child %q", f.ID, c))
			}
		}
	}

	contexts := make(map[string]bool)
	for _, c := range p.Contexts {
		if c.ID == "" {
			errs = append(errs, errors.New("context without id"))
			continue
		}
		if contexts[c.ID] {
			errs = append(errs, fmt.Errorf("context %q declared twice", c.ID))
		}
		contexts[c.ID] = true
		for _, a := range c.Allowed {
			if _, ok := seen[a]; !ok {
				errs = append(errs, fmt.Errorf("context %s: unknown element %q", c.ID, a))
			}
		}
	}

	ids := make(map[string]bool)
	for _, r := range p.Rules {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("rule %q without id", r.Name))
			continue
		}
		if ids[r.ID] {
			errs = append(errs, fmt.Errorf("rule %q declared twice", r.ID))
		}
		ids[r.ID] = true
		if !contexts[r.ContextID] {
			errs = append(errs, fmt.Errorf("rule %s: unknown context %q", r.ID, r.ContextID))
		}
	}
	for _, r := range p.Rules {
		for _, used := range r.RulesUsed {
			if !ids[used] {
				errs = append(errs, fmt.Errorf("rule %s: unknown rule used %q", r.ID, used))
			}
		}
	}
	return errors.Join(errs...)
}
