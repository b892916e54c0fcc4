// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolver implements the dependency resolver and loader (spec
// §4.6): a FIFO BFS over package declarations, deduplicated by resolved
// base path, with one format interpreter per supported package layout.
package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jan9103/numng/internal/gitstore"
	"github.com/Jan9103/numng/internal/home"
	"github.com/Jan9103/numng/internal/logsink"
	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/pathsafe"
	"github.com/Jan9103/numng/internal/registry"
	"github.com/Jan9103/numng/internal/snippet"
)

// Options configures a single resolution run. NumngFilePath is the only
// required field.
type Options struct {
	NumngFilePath          string
	GenerateScript         string
	GenerateOverlay        string
	NupmHome               string
	DeleteExistingNupmHome bool
	PullUpdates            bool
	// AllowBuildCommands overrides the root manifest's own
	// extra_data.allow_build_commands when non-nil.
	AllowBuildCommands *bool
	GitStoreBase       string
	Log                *logsink.Sink
}

type queueItem struct {
	pkg      *manifest.Package
	basePath string
}

// Loader drives one resolution run. Construct with New and call Run once.
type Loader struct {
	opts  Options
	store *gitstore.Store
	home  *home.Tree

	registries []registry.Registry
	queue      []queueItem
	loaded     map[string]bool

	allowBuildCommands bool
	nuPluginPaths      []string
	// linkPlans queues every linkin symlink (spec §3's generic (src, dst)
	// plan), materialized after script emission regardless of whether a
	// nupm home is configured - see home.MaterializeLinks.
	linkPlans []home.Link

	envSnippets    []snippet.Snippet
	useSnippets    []snippet.Snippet
	scriptSnippets []snippet.Snippet
}

// New constructs a Loader. It performs no I/O.
func New(opts Options) *Loader {
	if opts.Log == nil {
		opts.Log = logsink.New(os.Stderr, false)
	}
	l := &Loader{
		opts:   opts,
		store:  gitstore.New(opts.GitStoreBase, opts.Log),
		loaded: map[string]bool{},
	}
	if opts.NupmHome != "" {
		l.home = home.New(opts.NupmHome)
	}
	return l
}

// Result is everything a run produces beyond its side effects on disk.
type Result struct {
	// PluginPaths lists every nu_plugins path collected while resolving
	// the graph. Reconciling this against `nu plugin list` (adding
	// missing entries, removing stale ones) is left to the caller - spec
	// §4.8 step 5 scopes the actual `nu` subprocess invocation out as an
	// external collaborator; the core only collects the paths.
	PluginPaths []string
}

// Run executes the full resolution: parse the root manifest, load every
// registry it declares, breadth-first resolve the dependency graph, and
// (depending on which Options were set) emit a loader script, an overlay
// script, and/or materialize a nupm home directory.
func (l *Loader) Run() (*Result, error) {
	if l.opts.NupmHome != "" {
		if err := home.CheckDepth(l.opts.NupmHome); err != nil {
			return nil, err
		}
		if _, err := os.Stat(l.opts.NupmHome); err == nil && !l.opts.DeleteExistingNupmHome {
			return nil, numngerr.New(numngerr.Policy, "nupm home at %s already exists and delete-existing is off", l.opts.NupmHome)
		}
	}

	l.opts.Log.Debugf("loading initial base package from %s", l.opts.NumngFilePath)
	raw, err := os.ReadFile(l.opts.NumngFilePath)
	if err != nil {
		return nil, numngerr.Wrapf(numngerr.Filesystem, err, "failed to read %s", l.opts.NumngFilePath)
	}
	rootPkg, err := manifest.FromJSON(json.RawMessage(raw), true)
	if err != nil {
		return nil, err
	}

	for _, reg := range rootPkg.Registries {
		base, err := l.downloadPackage(reg)
		if err != nil {
			return nil, err
		}
		if err := l.loadRegistry(reg, base); err != nil {
			return nil, err
		}
	}

	basePath, err := filepath.Abs(filepath.Dir(l.opts.NumngFilePath))
	if err != nil {
		return nil, numngerr.Wrapf(numngerr.Filesystem, err, "failed to resolve directory of %s", l.opts.NumngFilePath)
	}
	l.queue = append(l.queue, queueItem{pkg: rootPkg, basePath: basePath})

	if l.opts.AllowBuildCommands != nil {
		l.allowBuildCommands = *l.opts.AllowBuildCommands
	} else {
		l.allowBuildCommands = rootPkg.ExtraBool("allow_build_commands")
	}

	l.opts.Log.Debugf("entering load queue loop")
	for len(l.queue) > 0 {
		item := l.queue[0]
		l.queue = l.queue[1:]
		if l.loaded[item.basePath] {
			continue
		}
		l.loaded[item.basePath] = true
		if err := l.loadPackage(item.pkg, item.basePath); err != nil {
			return nil, err
		}
	}

	if l.opts.GenerateScript != "" {
		l.opts.Log.Debugf("generating script at %s", l.opts.GenerateScript)
		if err := l.writeLoaderScript(); err != nil {
			return nil, err
		}
	}
	if l.opts.GenerateOverlay != "" {
		l.opts.Log.Debugf("generating overlay at %s", l.opts.GenerateOverlay)
		if err := l.writeOverlayScript(); err != nil {
			return nil, err
		}
	}

	if l.home != nil {
		l.opts.Log.Debugf("init nupm_home at %s", l.opts.NupmHome)
		if err := l.home.Reset(l.opts.DeleteExistingNupmHome); err != nil {
			return nil, err
		}
		if err := l.home.Materialize(); err != nil {
			return nil, err
		}
	}
	if len(l.linkPlans) > 0 {
		l.opts.Log.Debugf("materializing %d linkin symlink(s)", len(l.linkPlans))
		if err := home.MaterializeLinks(l.linkPlans); err != nil {
			return nil, err
		}
	}

	return &Result{PluginPaths: l.nuPluginPaths}, nil
}

func (l *Loader) registryGetByName(name, wantedVersion string) (*manifest.Package, error) {
	for _, reg := range l.registries {
		p, err := reg.GetByName(name, wantedVersion)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

func (l *Loader) loadRegistry(pkg *manifest.Package, basePath string) error {
	l.opts.Log.Debugf("loading registry from %s", basePath)
	switch pkg.PackageFormat {
	case "nupm":
		regDir := filepath.Join(basePath, "registry")
		if _, err := os.Stat(filepath.Join(regDir, "registry.nuon")); err != nil {
			return numngerr.New(numngerr.Validation, "failed to load nupm registry (registry/registry.nuon not found in %s)", basePath)
		}
		reg, err := registry.NewNupm(regDir)
		if err != nil {
			return err
		}
		l.registries = append(l.registries, reg)
		return nil
	case "numng":
		l.registries = append(l.registries, registry.NewNumng(basePath))
		return nil
	default:
		return numngerr.New(numngerr.Validation, "failed to load registry (unknown or unsupported package_format %q)", pkg.PackageFormat)
	}
}

// downloadPackage resolves pkg's registry data (unless ignore_registry is
// set) and fetches its source, returning the absolute base path to the
// package's files on disk.
func (l *Loader) downloadPackage(pkg *manifest.Package) (string, error) {
	if len(l.registries) > 0 && !pkg.ExtraBool("ignore_registry") {
		regPkg, err := l.registryGetByName(pkg.Name, pkg.ExtraString("version"))
		if err != nil {
			return "", err
		}
		if regPkg != nil {
			pkg.IncludeData(regPkg)
		}
	}
	if pkg.SourceURI == "" {
		return "", numngerr.New(numngerr.Resolution, "failed to download %s (unknown source_uri)", pkg.Name)
	}

	var basePath string
	switch pkg.SourceType {
	case "git", "":
		path, err := l.store.Acquire(pkg.SourceURI, pkg.SourceGitRef, l.opts.PullUpdates)
		if err != nil {
			return "", err
		}
		basePath = path
	default:
		return "", numngerr.New(numngerr.Validation, "failed to download %s (unknown or unsupported source-type %q)", pkg.Name, pkg.SourceType)
	}

	if pkg.SourcePathOffset != "" {
		joined, err := pathsafe.Join(basePath, strings.Split(pkg.SourcePathOffset, "/")...)
		if err != nil {
			return "", numngerr.New(numngerr.Containment, "security error: %s has a path_offset outside of its repository", pkg.Name)
		}
		basePath = joined
	}
	return basePath, nil
}

func (l *Loader) downloadPackages(pkgs []*manifest.Package) ([]queueItem, error) {
	items := make([]queueItem, 0, len(pkgs))
	for _, p := range pkgs {
		base, err := l.downloadPackage(p)
		if err != nil {
			return nil, err
		}
		items = append(items, queueItem{pkg: p, basePath: base})
	}
	return items, nil
}

// loadPackage dispatches to the format-specific interpreter for one queued
// package, after downloading whatever dependencies its own manifest
// declaration already carries (as opposed to dependencies its own
// in-directory package file declares, which each interpreter queues
// itself).
func (l *Loader) loadPackage(pkg *manifest.Package, basePath string) error {
	items, err := l.downloadPackages(pkg.Depends)
	if err != nil {
		return err
	}
	l.queue = append(l.queue, items...)

	format := pkg.PackageFormat
	numngPath := filepath.Join(basePath, "numng.json")
	nupmPath := filepath.Join(basePath, "nupm.nuon")
	packerPath := filepath.Join(basePath, "meta.nuon")

	if format == "numng" || (format == "" && exists(numngPath)) {
		l.opts.Log.Infof("Loading numng package %s", pkg.Name)
		var fp string
		if exists(numngPath) {
			fp = numngPath
		}
		return l.loadNumng(pkg, fp, basePath)
	}
	if (format == "nupm" || format == "") && exists(nupmPath) {
		l.opts.Log.Infof("Loading nupm package %s", pkg.Name)
		return l.loadNupm(pkg, nupmPath, basePath)
	}
	if (format == "packer" || format == "packer.nu") && exists(packerPath) {
		l.opts.Log.Infof("Loading packer.nu package %s", pkg.Name)
		return l.loadPackerMeta(pkg, packerPath, basePath)
	}
	l.opts.Log.Infof("No specific load action for %s (%s) found.", pkg.Name, format)
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// depNames returns the dependency names of pkg, used to populate a new
// snippet's Depends list - never nil, matching numng.py's `[] if
// package.depends is None else [...]` normalization at each snippet site.
func depNames(pkg *manifest.Package) []string {
	names := make([]string, 0, len(pkg.Depends))
	for _, d := range pkg.Depends {
		names = append(names, d.Name)
	}
	return names
}

func (l *Loader) registerNupmModule(name, srcPath string) error {
	if l.home == nil {
		return nil
	}
	return l.home.RegisterModule(name, srcPath)
}

func (l *Loader) registerNupmBinary(name, srcPath string) error {
	if l.home == nil {
		return nil
	}
	return l.home.RegisterBinary(name, srcPath)
}

func (l *Loader) registerNupmOverlay(name, srcPath string) error {
	if l.home == nil {
		return nil
	}
	return l.home.RegisterOverlay(name, srcPath)
}
