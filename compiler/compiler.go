// Package compiler implements the single root object described in spec §5:
// a Compilation owns the source file set, the symbol table, the
// diagnostics collector and the accumulating image buffer for the
// lifetime of one run, and orchestrates every phase from lexing through
// image emission in strict order: lex (A), parse (C), preprocess (B),
// expand (D), semantic (E), codegen (G, with text encoding F), image
// layout/fixups (H), using the §4 component letters.
package compiler

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/avwohl/zorkie-sub001/ast"
	"github.com/avwohl/zorkie-sub001/codegen"
	"github.com/avwohl/zorkie-sub001/config"
	"github.com/avwohl/zorkie-sub001/diag"
	"github.com/avwohl/zorkie-sub001/expand"
	"github.com/avwohl/zorkie-sub001/image"
	"github.com/avwohl/zorkie-sub001/parse"
	"github.com/avwohl/zorkie-sub001/preprocess"
	"github.com/avwohl/zorkie-sub001/semantic"
	"github.com/avwohl/zorkie-sub001/symtab"
)

// fileLoader resolves INSERT-FILE targets against the directory of the
// file that named them, matching the teacher's own relative-include
// convention. Each Open call hands back a freshly opened handle; the
// preprocessor is responsible for closing it, which insertFile does with
// a deferred Close when it returns, after the inserted forms (and any
// files they insert) are processed (scoped acquisition with guaranteed
// release on every exit path, including a read error).
type fileLoader struct{}

func (fileLoader) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

// Compilation is the root context for one compile: one symbol table, one
// diagnostics collector, and the config governing the target profile.
// Nothing under it outlives the call to CompileFile or Build.
type Compilation struct {
	Config *config.Config

	syms  *symtab.Table
	diags *diag.Collector
}

// New creates a Compilation. A nil cfg uses config.DefaultConfig.
func New(cfg *config.Config) *Compilation {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Compilation{
		Config: cfg,
		syms:   symtab.New(),
		diags:  &diag.Collector{},
	}
}

// Diagnostics returns every diagnostic collected so far.
func (c *Compilation) Diagnostics() []diag.Diagnostic {
	return c.diags.Items()
}

// Result is everything a successful compile produced, ahead of being
// written to a story file.
type Result struct {
	Program *semantic.Program
	Output  *codegen.Output
	Image   []byte
}

// CompileFile runs every phase (lex through image layout) over the single
// entry-point source at path, returning the built image bytes. It performs
// no filesystem write; callers that want a story file on disk call
// WriteFile instead. On any diagnostic error the return is (nil, err) with
// err wrapping diag.Collector's own error so the caller can print notes
// and spans (§7: "produces no output and reports the collected
// diagnostics").
func (c *Compilation) CompileFile(path string) (*Result, error) {
	nodes, err := c.parseFile(path)
	if err != nil {
		return nil, err
	}

	pp := preprocess.New(c.diags, fileLoader{}, c.Config.Target.Version)
	nodes = pp.Process(nodes, filepath.Dir(path))
	if c.diags.HasErrors() {
		return nil, errors.Wrap(c.diags.Err(), "preprocessing")
	}

	ex := expand.New(c.syms, c.diags)
	ex.Expand(nodes)
	if c.diags.HasErrors() {
		return nil, errors.Wrap(c.diags.Err(), "expanding")
	}

	prog := semantic.Build(ex, c.diags)
	if c.diags.HasErrors() {
		return nil, errors.Wrap(c.diags.Err(), "building tables")
	}

	out := codegen.Generate(prog, c.diags)
	if c.diags.HasErrors() {
		return nil, errors.Wrap(c.diags.Err(), "generating code")
	}

	data, err := image.Build(prog, out, c.Config, c.diags)
	if err != nil {
		return nil, errors.Wrap(err, "laying out image")
	}

	return &Result{Program: prog, Output: out, Image: data}, nil
}

// Build compiles path and writes the resulting story file to outPath,
// atomically (§7: the write either fully succeeds or leaves no file at
// outPath at all). It reuses CompileFile's Result for Program/Output but
// re-lays-out and writes the image through image.WriteFile directly, so
// the atomic-write logic lives in exactly one place.
func (c *Compilation) Build(path, outPath string) (*Result, error) {
	res, err := c.CompileFile(path)
	if err != nil {
		return nil, err
	}
	if err := image.WriteFile(outPath, res.Program, res.Output, c.Config, c.diags); err != nil {
		return nil, errors.Wrap(err, "writing image")
	}
	return res, nil
}

// parseFile opens path, scoping the handle to this call only (closed
// before ParseAll's caller sees a result either way), and parses its
// entire token stream into a Form tree.
func (c *Compilation) parseFile(path string) ([]*ast.Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	p := parse.New(path, f, c.diags)
	nodes := p.ParseAll()
	if c.diags.HasErrors() {
		return nil, errors.Wrap(c.diags.Err(), "parsing")
	}
	return nodes, nil
}
