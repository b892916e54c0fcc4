// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Jan9103/numng/internal/home"
	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/nuon"
	"github.com/Jan9103/numng/internal/pathsafe"
	"github.com/Jan9103/numng/internal/snippet"
)

// loadPackerMeta interprets a packer.nu-format package's meta.nuon:
// prefixed and unprefixed module exports, an optional env.nu/init.nu pair,
// and a lib/ directory contributed to NU_LIB_DIRS.
func (l *Loader) loadPackerMeta(pkg *manifest.Package, metaPath, basePath string) error {
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to read %s", metaPath)
	}
	var meta map[string]interface{}
	if err := nuon.Decode(string(raw), &meta); err != nil {
		return err
	}
	if meta == nil {
		return numngerr.New(numngerr.Validation, "invalid packer.nu meta.nuon in %s (not a record)", pkg.Name)
	}

	deps := depNames(pkg)

	for _, rawModule := range listify(meta["prefixed_modules"]) {
		module, _ := rawModule.(string)
		modPath, err := pathsafe.Join(basePath, strings.Split(module, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "security error: %s's prefixed module paths invalid", pkg.Name)
		}
		l.useSnippets = append(l.useSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "export use " + modPath})
	}

	for _, rawModule := range listify(meta["modules"]) {
		module, _ := rawModule.(string)
		modPath, err := pathsafe.Join(basePath, strings.Split(module, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "security error: %s's unprefixed module paths invalid", pkg.Name)
		}
		l.useSnippets = append(l.useSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "export use " + modPath + " *"})
	}

	envNu := filepath.Join(basePath, "env.nu")
	if exists(envNu) {
		l.envSnippets = append(l.envSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "source-env " + envNu})
	}

	initNu := filepath.Join(basePath, "init.nu")
	if exists(initNu) {
		l.envSnippets = append(l.envSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "use " + initNu + " *"})
	}

	libDir := filepath.Join(basePath, "lib")
	if info, err := os.Stat(libDir); err == nil && info.IsDir() {
		l.envSnippets = append(l.envSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: home.PathListAssignNu("NU_LIB_DIRS", libDir)})
	}

	return nil
}
