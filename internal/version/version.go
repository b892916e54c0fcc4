// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version implements numng's lenient version-constraint parser and
// matcher (spec §4.1). It is deliberately not a strict semver
// implementation: each dot-delimited section keeps only its digit run, and
// a purely-alphabetic input (e.g. "latest") is kept verbatim as a named
// operator rather than rejected. The numeric overlap check in Matches
// delegates to github.com/Masterminds/semver - the same constraint-matching
// library the teacher reaches for in its own constraints.go - rather than
// reimplementing semver range algebra by hand; the ordering in Greater is
// implemented in this package.
package version

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver"
)

// Operator distinguishes the handful of prefix characters (and the bare
// "latest"/named case) a Constraint's input text can carry.
type Operator string

const (
	OpExact Operator = ""
	OpLess  Operator = "<"
	OpGreat Operator = ">"
	OpCaret Operator = "^"
	OpTilde Operator = "~"
	OpNamed Operator = "latest" // any other purely-alphabetic input is stored verbatim as its own Operator
)

// Constraint is a parsed version-constraint string: an operator plus up to
// three optional numeric levels. Unset levels are represented with Has*
// being false; this distinguishes "1.2" (minor set, patch unset) from
// "1.2.0" for matching purposes. sem backs the numeric overlap check in
// Matches and is nil for a named/alpha operator or a degenerate constraint
// with no numeric levels at all.
type Constraint struct {
	Op Operator

	Major    int
	HasMajor bool
	Minor    int
	HasMinor bool
	Patch    int
	HasPatch bool

	sem semver.Constraint
}

// Parse implements spec §4.1's lenient parse rule: strip a leading operator
// character from {<,>,^,~}; for each dot-delimited section keep only the
// digit characters, stopping at the first section that yields nothing; a
// purely-alphabetic input is stored as a named operator with all numbers
// unset.
func Parse(text string) Constraint {
	var c Constraint

	if text == "" {
		return c
	}

	if isAllAlpha(text) {
		c.Op = Operator(text)
		return c
	}

	rest := text
	switch text[0] {
	case '<', '>', '^', '~':
		c.Op = Operator(text[0])
		rest = text[1:]
	}

	nums := make([]int, 0, 3)
	for _, section := range strings.Split(rest, ".") {
		digits := onlyDigits(section)
		if digits == "" {
			break
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			break
		}
		nums = append(nums, n)
		if len(nums) == 3 {
			break
		}
	}

	if len(nums) > 0 {
		c.Major, c.HasMajor = nums[0], true
	}
	if len(nums) > 1 {
		c.Minor, c.HasMinor = nums[1], true
	}
	if len(nums) > 2 {
		c.Patch, c.HasPatch = nums[2], true
	}

	if c.HasMajor && c.isNumericOp() {
		c.sem = buildSemverConstraint(c.Op, nums)
	}

	return c
}

// buildSemverConstraint reassembles the retained digit sections (major,
// possibly minor, possibly patch) back into constraint text semver.
// NewConstraint accepts - numng's lenient operator subset {<,>,^,~,""} maps
// directly onto semver's own prefix syntax, so no translation is needed. A
// malformed result (shouldn't occur, since nums is built from clean digit
// runs) leaves the constraint without a numeric backing; Matches then falls
// back to treating it as non-matching rather than panicking.
func buildSemverConstraint(op Operator, nums []int) semver.Constraint {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	c, err := semver.NewConstraint(string(op) + strings.Join(parts, "."))
	if err != nil {
		return nil
	}
	return c
}

func isAllAlpha(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			return false
		}
	}
	return true
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isNumericOp reports whether c's operator participates in numeric range
// comparison (a plain version is a degenerate, single-point range) as
// opposed to being an arbitrary alpha tag compared only by literal string
// equality. OpNamed ("latest") is handled separately by its callers before
// this distinction matters.
func (c Constraint) isNumericOp() bool {
	switch c.Op {
	case OpExact, OpLess, OpGreat, OpCaret, OpTilde:
		return true
	}
	return false
}

// Matches is the symmetric equality relation of spec §4.1: it decides
// whether a "wanted" constraint and a "candidate" constraint (conventionally
// passed in either order - the relation is intentionally symmetric) describe
// overlapping versions. "latest" always matches; two arbitrary alpha tags
// match only if their operator strings are identical; otherwise the overlap
// check is delegated to the semver-backed range, mirroring how the
// teacher's own semverConstraint.MatchesAny is built from
// Intersect+semver.IsNone rather than a bespoke range comparison.
func Matches(wanted, candidate Constraint) bool {
	if wanted.Op == OpNamed || candidate.Op == OpNamed {
		return true
	}
	if !wanted.isNumericOp() || !candidate.isNumericOp() {
		return wanted.Op == candidate.Op
	}
	if !wanted.HasMajor || !candidate.HasMajor {
		return true
	}
	if wanted.sem == nil || candidate.sem == nil {
		return false
	}
	return !semver.IsNone(wanted.sem.Intersect(candidate.sem))
}

// Greater implements spec §4.1's ordering: compare major, then minor, then
// patch; an unset level on the left is "less than any concrete" level on
// the right, and OpNamed ("latest") dominates everything else. No library
// in the pack picks a "greatest" constraint out of a set of overlapping
// range keys the way registries need (spec §4.5's version-dict lookup), so
// this ordering stays bespoke, grounded directly on numng.py's own compare.
func Greater(a, b Constraint) bool {
	if a.Op == OpNamed {
		return true
	}
	if b.Op == OpNamed {
		return false
	}
	if !b.HasMajor {
		return true
	}
	if !a.HasMajor || a.Major < b.Major {
		return false
	}
	if a.Major > b.Major || !b.HasMinor {
		return true
	}
	if !a.HasMinor || a.Minor < b.Minor {
		return false
	}
	if a.Minor > b.Minor || !b.HasPatch {
		return true
	}
	return !(!a.HasPatch || a.Patch < b.Patch)
}

// PickGreatest selects, from a map of version-key strings to arbitrary
// values, the value whose key is the greatest version matching wanted. The
// sentinel key "_" is always skipped (it carries template data, not a real
// version). Returns false if nothing matches. Iteration order over a Go map
// is randomized, so ties are broken arbitrarily rather than by insertion
// order; callers that need a specific tie-break should pre-sort their keys.
func PickGreatest(wanted Constraint, options map[string]interface{}) (interface{}, bool) {
	var (
		best      interface{}
		bestKey   Constraint
		haveMatch bool
	)
	for k, v := range options {
		if k == "_" {
			continue
		}
		cand := Parse(k)
		if !Matches(wanted, cand) {
			continue
		}
		// last wins on ties: update whenever cand is not strictly less than
		// the current best, matching spec's "ties: last wins" rule.
		if !haveMatch || !Greater(bestKey, cand) {
			best, bestKey, haveMatch = v, cand, true
		}
	}
	return best, haveMatch
}
