// Package content loads variant bundles from disk.
//
// A bundle file is JSON, YAML or CUE shaped as
//
//	{bundle_id: string, version?: string, variants: [...]}
//
// Every file is unified with the embedded CUE #Bundle schema before decoding,
// so scope tags, dominance values and intensity bounds are rejected with a
// CUE diagnostic. Each condition tree is then parsed and statically
// validated; a bundle that references a leaf key this build does not
// implement never reaches the selector.
package content

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/kundlicore/internal/logger"
	"github.com/rewired-gh/kundlicore/internal/models"
)

//go:embed schema.cue
var schemaSource []byte

// Bundle is one loaded content file.
type Bundle struct {
	ID       string           `json:"bundle_id"`
	Version  string           `json:"version,omitempty"`
	Variants []models.Variant `json:"variants"`

	// Source is the file the bundle was read from.
	Source string `json:"-"`
}

// LoadError locates a content defect by file and, when known, variant code.
type LoadError struct {
	File  string
	Code  string
	Index int
	Err   error
}

func (e *LoadError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("content %s: %v", e.File, e.Err)
	}
	return fmt.Sprintf("content %s: variant %s (index %d): %v", e.File, e.Code, e.Index, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrDuplicateCode is wrapped by LoadError when a variant code repeats.
var ErrDuplicateCode = errors.New("duplicate variant code")

// Loader decodes and schema-checks bundle files. It is not safe for
// concurrent use.
type Loader struct {
	ctx    *cue.Context
	bundle cue.Value
}

// NewLoader compiles the embedded schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile bundle schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Bundle"))
	if !def.Exists() {
		return nil, errors.New("bundle schema has no #Bundle definition")
	}
	return &Loader{ctx: ctx, bundle: def}, nil
}

// LoadFile reads one bundle file, choosing the decoder by extension.
func (l *Loader) LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Err: err}
	}
	return l.LoadBytes(path, data)
}

// LoadBytes decodes a bundle whose format is implied by name's extension.
func (l *Loader) LoadBytes(name string, data []byte) (*Bundle, error) {
	val, err := l.compile(name, data)
	if err != nil {
		return nil, &LoadError{File: name, Err: err}
	}

	unified := l.bundle.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{File: name, Err: fmt.Errorf("schema: %s", strings.TrimSpace(cueerrors.Details(err, nil)))}
	}

	raw, err := unified.MarshalJSON()
	if err != nil {
		return nil, &LoadError{File: name, Err: fmt.Errorf("export: %w", err)}
	}

	b, err := decodeBundle(name, raw)
	if err != nil {
		return nil, err
	}
	b.Source = name
	return b, nil
}

func (l *Loader) compile(name string, data []byte) (cue.Value, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json", ".cue":
		v := l.ctx.CompileBytes(data, cue.Filename(name))
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("compile: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
		}
		return v, nil

	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, fmt.Errorf("parse yaml: %w", err)
		}
		js, err := json.Marshal(doc)
		if err != nil {
			return cue.Value{}, fmt.Errorf("yaml document is not JSON compatible: %w", err)
		}
		v := l.ctx.CompileBytes(js, cue.Filename(name))
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("compile: %w", err)
		}
		return v, nil

	default:
		return cue.Value{}, fmt.Errorf("unsupported content file extension %q", ext)
	}
}

// decodeBundle decodes schema-checked JSON, variant by variant, so tree
// errors can name the offending code.
func decodeBundle(name string, raw []byte) (*Bundle, error) {
	var head struct {
		ID       string            `json:"bundle_id"`
		Version  string            `json:"version"`
		Variants []json.RawMessage `json:"variants"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, &LoadError{File: name, Err: err}
	}

	b := &Bundle{ID: head.ID, Version: head.Version, Variants: make([]models.Variant, 0, len(head.Variants))}
	for i, rv := range head.Variants {
		var id struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(rv, &id)

		var v models.Variant
		if err := json.Unmarshal(rv, &v); err != nil {
			return nil, &LoadError{File: name, Code: id.Code, Index: i, Err: err}
		}
		if err := v.Validate(); err != nil {
			return nil, &LoadError{File: name, Code: v.Code, Index: i, Err: err}
		}
		b.Variants = append(b.Variants, v)
	}
	return b, nil
}

// Catalog is the immutable set of variants loaded at startup, in
// declaration order: file order, then array order.
type Catalog struct {
	Bundles []*Bundle

	variants []models.Variant
	byCode   map[string]int
}

// Load reads every path and assembles a Catalog. Variant codes must be
// unique across the whole set, as must bundle ids.
func Load(paths ...string) (*Catalog, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.New("no content paths given")
	}

	bundles := make([]*Bundle, 0, len(paths))
	for _, p := range paths {
		b, err := l.LoadFile(p)
		if err != nil {
			return nil, err
		}
		logger.Debug("Loaded bundle %s (%d variants) from %s", b.ID, len(b.Variants), p)
		bundles = append(bundles, b)
	}
	return NewCatalog(bundles...)
}

// NewCatalog indexes already-decoded bundles.
func NewCatalog(bundles ...*Bundle) (*Catalog, error) {
	c := &Catalog{Bundles: bundles, byCode: make(map[string]int)}
	seenBundles := make(map[string]string)
	for _, b := range bundles {
		if prev, ok := seenBundles[b.ID]; ok {
			return nil, &LoadError{File: b.Source, Err: fmt.Errorf("bundle_id %q already loaded from %s", b.ID, prev)}
		}
		seenBundles[b.ID] = b.Source

		for i := range b.Variants {
			v := b.Variants[i]
			if _, dup := c.byCode[v.Code]; dup {
				return nil, &LoadError{File: b.Source, Code: v.Code, Index: i, Err: ErrDuplicateCode}
			}
			c.byCode[v.Code] = len(c.variants)
			c.variants = append(c.variants, v)
		}
	}
	return c, nil
}

// Variants returns all variants in declaration order. The slice is shared;
// callers must not modify it.
func (c *Catalog) Variants() []models.Variant {
	return c.variants
}

// Lookup finds a variant by code.
func (c *Catalog) Lookup(code string) (*models.Variant, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return nil, false
	}
	return &c.variants[i], true
}

// Bundle finds a loaded bundle by id.
func (c *Catalog) Bundle(id string) (*Bundle, bool) {
	for _, b := range c.Bundles {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// Len returns the number of variants.
func (c *Catalog) Len() int {
	return len(c.variants)
}

// Encode renders a bundle back to indented JSON, preserving effect payloads
// as authored.
func Encode(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
