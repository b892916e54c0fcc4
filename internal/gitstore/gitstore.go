// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gitstore implements the content-addressed git worktree store
// (spec §4.3): a bare clone per remote URL, plus one reusable worktree per
// ref. Acquisition is shallow by default and updated only on demand.
package gitstore

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/vcs"
	"github.com/theckman/go-flock"

	"github.com/Jan9103/numng/internal/logsink"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/pathsafe"
)

const defaultRef = "main"

// Store is a durable, content-addressed directory of bare clones and their
// worktrees, rooted at Base.
type Store struct {
	Base string
	Log  *logsink.Sink
}

// New returns a Store rooted at base. base is created lazily on first
// acquisition.
func New(base string, log *logsink.Sink) *Store {
	return &Store{Base: base, Log: log}
}

// RepoBase returns the per-URL directory a remote is stored under, without
// touching the filesystem or network.
func (s *Store) RepoBase(url string) (string, error) {
	after, ok := splitSchemeSep(url)
	if !ok {
		return "", numngerr.New(numngerr.Validation, "invalid git url (missing ://): %s", url)
	}
	segments := strings.Split(after, "/")
	safeSegments := make([]string, len(segments))
	for i, seg := range segments {
		safeSegments[i] = pathsafe.Safe(seg)
	}
	return filepath.Join(append([]string{s.Base, "git"}, safeSegments...)...), nil
}

func splitSchemeSep(url string) (string, bool) {
	idx := strings.Index(url, "://")
	if idx < 0 {
		return "", false
	}
	return url[idx+3:], true
}

// Acquire returns the worktree path for (url, ref), downloading or updating
// it as needed per spec §4.3. ref defaults to "main" when empty. When
// update is true and the worktree already exists, it is cleaned, fetched,
// and hard-reset to FETCH_HEAD rather than re-cloned.
func (s *Store) Acquire(url, ref string, update bool) (string, error) {
	if ref == "" {
		ref = defaultRef
	}
	base, err := s.RepoBase(url)
	if err != nil {
		return "", err
	}
	barePath := filepath.Join(base, "__bare__")
	refPath := filepath.Join(base, pathsafe.Safe(ref))

	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", numngerr.Wrapf(numngerr.Filesystem, err, "failed to create git store directory %s", base)
	}

	lock := flock.NewFlock(filepath.Join(base, ".lock"))
	if err := lock.Lock(); err != nil {
		return "", numngerr.Wrapf(numngerr.Filesystem, err, "failed to lock git store directory %s", base)
	}
	defer lock.Unlock()

	if !exists(barePath) {
		s.Log.Debugf("git clone bare: %s", url)
		if err := s.run(base, "git", "clone", "--bare", "--quiet", "--depth=1", url, "__bare__"); err != nil {
			return "", numngerr.Wrapf(numngerr.External, err, "failed to git clone %s", url)
		}
	}

	switch {
	case !exists(refPath):
		if err := s.fetchAndWorktree(barePath, refPath, url, ref); err != nil {
			return "", err
		}
	case update:
		if err := s.update(refPath, url, ref); err != nil {
			return "", err
		}
	}

	return refPath, nil
}

func (s *Store) fetchAndWorktree(barePath, refPath, url, ref string) error {
	s.Log.Debugf("git fetch %s %s", url, ref)
	if err := s.run(barePath, "git", "fetch", "--quiet", "--depth=1", "--tags", "origin", ref); err != nil {
		s.Log.Debugf("fetch failed for %s %s", url, ref)
		if isHex(ref) {
			s.Log.Debugf("attempting to fix potential short-hash problem via unshallow")
			_ = s.run(barePath, "git", "fetch", "--unshallow", "--quiet")
		}
	}

	s.Log.Debugf("git worktree add %s", ref)
	if err := s.run(barePath, "git", "worktree", "add", "--quiet", refPath, ref); err != nil {
		// ref is most likely a remote branch name that has no local
		// tracking branch yet - fetch it explicitly as one and retry.
		s.Log.Debugf("attempting to fix potential git-branch problem via second fetch")
		if err := s.run(barePath, "git", "fetch", "--quiet", "--depth=1", "--tags", "origin", ref+":"+ref); err != nil {
			return numngerr.Wrapf(numngerr.External, err, "failed to fetch git_ref %s of %s as a branch", ref, url)
		}
		if err := s.run(barePath, "git", "worktree", "add", "--quiet", refPath, ref); err != nil {
			return numngerr.Wrapf(numngerr.External, err, "failed to add a git worktree for %s of %s", ref, url)
		}
	}
	return nil
}

func (s *Store) update(refPath, url, ref string) error {
	s.Log.Debugf("updating worktree for %s %s", url, ref)
	// -e /target keeps a native build-artifact cache (e.g. cargo's) alive
	// across rebuilds.
	if err := s.run(refPath, "git", "clean", "-qfdx", "-e", "/target"); err != nil {
		return numngerr.Wrapf(numngerr.External, err, "failed to clean worktree for %s", url)
	}
	if err := s.run(refPath, "git", "fetch", "--quiet", "origin", ref); err != nil {
		return numngerr.Wrapf(numngerr.External, err, "failed to fetch update %s %s", url, ref)
	}
	if err := s.run(refPath, "git", "reset", "--hard", "--quiet", "FETCH_HEAD"); err != nil {
		return numngerr.Wrapf(numngerr.External, err, "failed to reset to update %s %s", url, ref)
	}
	return nil
}

// run executes a git (or other VCS) subprocess in dir, classifying failures
// via Masterminds/vcs's local/remote error distinction the way
// golang-dep's gitRepo wrapper does.
func (s *Store) run(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return vcs.NewRemoteError("command failed: "+strings.Join(append([]string{name}, args...), " "), err, out.String())
		}
		return vcs.NewLocalError("failed to start command: "+name, err, out.String())
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}
