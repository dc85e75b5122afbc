// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes documents against embedded CUE schemas.
//
// It wraps the compile, unify, validate, decode sequence behind one
// generic call so schema-backed file formats share a single pipeline
// and a single error shape. Validation failures are flattened into
// field-path-prefixed messages; callers supply the file context.
package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxSize bounds input documents at 5 MiB. Schema-backed files
// are hand-written; anything larger is a mistake or an attack, and CUE
// evaluation cost grows with input size.
const DefaultMaxSize int64 = 5 * 1024 * 1024

type (
	options struct {
		maxSize int64
	}

	// Option adjusts decoding behavior.
	Option func(*options)
)

// WithMaxSize replaces the DefaultMaxSize input bound.
func WithMaxSize(n int64) Option {
	return func(o *options) { o.maxSize = n }
}

// Decode validates data against the definition named root in schema and
// decodes the unified result into a T. Every field the schema requires
// must be concrete after unification.
func Decode[T any](schema, data []byte, root string, opts ...Option) (*T, error) {
	o := options{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}

	if int64(len(data)) > o.maxSize {
		return nil, fmt.Errorf("document is %d bytes, over the %d byte limit", len(data), o.maxSize)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("compiling schema: %w", schemaValue.Err())
	}
	def := schemaValue.LookupPath(cue.ParsePath(root))
	if def.Err() != nil {
		return nil, fmt.Errorf("schema has no definition %s: %w", root, def.Err())
	}

	doc := ctx.CompileBytes(data)
	if doc.Err() != nil {
		return nil, formatError(doc.Err())
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatError(err)
	}

	var out T
	if err := unified.Decode(&out); err != nil {
		return nil, formatError(err)
	}
	return &out, nil
}
