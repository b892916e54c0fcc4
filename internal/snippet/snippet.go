// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snippet implements the loader-script snippet model and
// topological sort (spec §4.7).
package snippet

import (
	"sort"
	"strings"

	"github.com/Jan9103/numng/internal/numngerr"
)

// Snippet is a single line of generated shell-loader text, tagged with its
// owning package and the names of packages whose snippets must precede it.
type Snippet struct {
	Name    string
	Depends []string
	Text    string
}

// Sort orders snippets into a dependency-valid emission order. It first
// prunes each snippet's Depends to only names actually present in the
// input (an unknown dependency is assumed to be an optional peer and
// silently dropped - see spec §9's open question about this). It then
// repeatedly emits all snippets with no remaining dependencies, in input
// order, removing a dependency's name from every other snippet's list once
// every snippet owned by that name has been emitted. If a full pass removes
// nothing, the remaining snippets form a cycle and Sort fails.
func Sort(in []Snippet) ([]string, error) {
	todo := make([]Snippet, len(in))
	present := make(map[string]bool, len(in))
	for _, s := range in {
		present[s.Name] = true
	}
	for i, s := range in {
		todo[i] = Snippet{Name: s.Name, Text: s.Text}
		for _, d := range s.Depends {
			if present[d] {
				todo[i].Depends = append(todo[i].Depends, d)
			}
		}
	}

	var result []string
	for len(todo) > 0 {
		lastLen := len(todo)
		var remaining []Snippet
		emittedNames := map[string]bool{}

		for _, s := range todo {
			if len(s.Depends) == 0 {
				result = append(result, s.Text)
				emittedNames[s.Name] = true
			} else {
				remaining = append(remaining, s)
			}
		}

		if len(remaining) == lastLen {
			names := make([]string, 0)
			seen := map[string]bool{}
			for _, s := range remaining {
				if !seen[s.Name] {
					seen[s.Name] = true
					names = append(names, s.Name)
				}
			}
			sort.Strings(names)
			return nil, numngerr.New(numngerr.Resolution, "circular dependencies: %s", strings.Join(names, " "))
		}

		// A package is "fully emitted" only once no remaining snippet still
		// carries its name - only then can it be dropped from others' deps.
		stillOwned := map[string]bool{}
		for _, s := range remaining {
			stillOwned[s.Name] = true
		}
		for i := range remaining {
			filtered := remaining[i].Depends[:0:0]
			for _, d := range remaining[i].Depends {
				if emittedNames[d] && !stillOwned[d] {
					continue
				}
				filtered = append(filtered, d)
			}
			remaining[i].Depends = filtered
		}

		todo = remaining
	}

	return result, nil
}
