// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package numngerr defines the behavior-level error kinds spec §7
// distinguishes (Validation, Containment, Resolution, External, Policy,
// Filesystem), so a caller can map a failed build to an exit code without
// string-matching error messages.
package numngerr

import "github.com/pkg/errors"

// Kind is one of the six error kinds spec §7 defines.
type Kind uint8

const (
	Validation Kind = iota
	Containment
	Resolution
	External
	Policy
	Filesystem
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Containment:
		return "containment"
	case Resolution:
		return "resolution"
	case External:
		return "external"
	case Policy:
		return "policy"
	case Filesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the kind that classifies it. The
// resolver is fail-fast: the first Error encountered aborts the build, and
// its single-line Error() text is what lands on the log channel.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	return e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a Kind-tagged error from a format string.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause so
// errors.Is/As and errors.Cause keep working.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrap(err, msg)}
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.Wrapf(err, format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error, defaulting to External for anything else - most non-tagged
// failures in this codebase originate from a subprocess or the filesystem.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return External
}
