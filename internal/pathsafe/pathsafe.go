// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pathsafe implements the filesystem-safe name sanitization and
// path-containment checks that every untrusted path in numng (manifest
// entries, registry entries, materialization targets) must pass through.
package pathsafe

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const validChars = "-_. " +
	"abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789"

// Safe maps an arbitrary string to a filesystem-safe name by replacing every
// character outside the permitted set with an underscore. It never produces
// a path separator, so the result is always safe to use as a single path
// segment.
func Safe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(validChars, r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ErrEscapesBase is returned by Join when the resulting path would lie
// outside base.
var ErrEscapesBase = errors.New("security error: path escapes its declared base")

// Join joins base with the given elements, normalizes the result, and
// verifies it still starts with base. This is the containment check spec
// §4.2 requires before touching any path derived from untrusted manifest or
// registry data.
func Join(base string, elem ...string) (string, error) {
	base = filepath.Clean(base)
	joined := filepath.Join(append([]string{base}, elem...)...)
	joined = filepath.Clean(joined)
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrEscapesBase, "base=%q target=%q", base, joined)
	}
	return joined, nil
}

// Contains reports whether the already-joined path p lies within base,
// without erroring. Useful where the caller wants to branch rather than
// propagate a containment failure.
func Contains(base, p string) bool {
	base = filepath.Clean(base)
	p = filepath.Clean(p)
	return p == base || strings.HasPrefix(p, base+string(filepath.Separator))
}
