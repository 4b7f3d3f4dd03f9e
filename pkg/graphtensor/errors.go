// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphtensor

import (
	"github.com/pkg/errors"
)

// Kinds of errors raised while configuring or building GNN layers.
//
// They are always wrapped (with a message and a stack trace), so test them with errors.Is.
var (
	// ErrConfiguration is raised for invalid options or option combinations, and for schema mismatches
	// found when resolving a configuration against a graph schema.
	ErrConfiguration = errors.New("configuration error")

	// ErrShape is raised when the shape of an input is incompatible with the layer, or with
	// parameters already created for it.
	ErrShape = errors.New("shape error")

	// ErrLookup is raised when a named feature, node set or edge set is missing.
	ErrLookup = errors.New("lookup error")

	// ErrUnsupported is raised when an input or option is structurally not supported by a layer.
	ErrUnsupported = errors.New("unsupported")
)

// Errorf returns an error of the given kind, with the formatted message and a stack trace.
func Errorf(kind error, format string, args ...any) error {
	return errors.Wrapf(kind, format, args...)
}

// Panicf panics with an error of the given kind. Used while building graphs, where GoMLX reports
// errors with panics: they can be caught with exceptions.TryCatch[error].
func Panicf(kind error, format string, args ...any) {
	panic(Errorf(kind, format, args...))
}
