// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the two interchangeable package-registry
// backends of spec §4.5: a per-file JSON registry (numng's own format) and
// a single-index nupm registry.nuon.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/nuon"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/pathsafe"
	"github.com/Jan9103/numng/internal/version"
)

// Registry looks up a dependency by name (and optionally a version
// constraint string), returning nil when nothing matches rather than an
// error - an unresolved registry lookup simply falls through to the next
// registry, or to the dependency's own source fields.
type Registry interface {
	GetByName(name, wantedVersion string) (*manifest.Package, error)
}

// Numng is the per-file JSON registry: one "<name>.json" file per package
// under Dir, mapping a version string (or the sentinel "_") to either a
// package declaration or a string alias of another version in the same
// file.
type Numng struct {
	Dir string
}

func NewNumng(dir string) *Numng {
	return &Numng{Dir: dir}
}

func (r *Numng) GetByName(name, wantedVersion string) (*manifest.Package, error) {
	segments := strings.Split(name, "/")
	safeSegments := make([]string, len(segments))
	for i, seg := range segments {
		safeSegments[i] = pathsafe.Safe(seg)
	}
	filePath, err := pathsafe.Join(r.Dir, safeSegments...)
	if err != nil {
		return nil, err
	}
	filePath += ".json"

	raw, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, numngerr.Wrapf(numngerr.Filesystem, err, "failed to read registry file %s", filePath)
	}

	var versionDict map[string]interface{}
	if err := json.Unmarshal(raw, &versionDict); err != nil {
		return nil, numngerr.Wrapf(numngerr.External, err, "registry %s contains an invalid json file at %s", r.Dir, filePath)
	}

	wanted := version.Parse(wantedVersionOrLatest(wantedVersion))
	found, ok := version.PickGreatest(wanted, versionDict)
	if !ok {
		return nil, nil
	}

	// A matched entry may itself be a string, aliasing another version key
	// in the same file; follow the chain until a real record is found.
	seen := map[string]bool{}
	for {
		alias, isAlias := found.(string)
		if !isAlias {
			break
		}
		if seen[alias] {
			return nil, numngerr.New(numngerr.Resolution, "registry defined a circular version alias for %s", name)
		}
		seen[alias] = true
		next, ok := versionDict[alias]
		if !ok {
			return nil, numngerr.New(numngerr.Resolution, "registry defined an invalid version alias from %s/%s to %s/%s", name, wantedVersion, name, alias)
		}
		found = next
	}

	foundMap, ok := found.(map[string]interface{})
	if !ok {
		return nil, numngerr.New(numngerr.External, "registry entry for %s is not an object", name)
	}
	foundMap["name"] = name
	result, err := manifest.FromMap(foundMap, false)
	if err != nil {
		return nil, err
	}

	if template, ok := versionDict["_"]; ok {
		templateMap, ok := template.(map[string]interface{})
		if ok {
			tpl, err := manifest.FromMap(templateMap, true)
			if err != nil {
				return nil, err
			}
			result.IncludeData(tpl)
		}
	}

	return result, nil
}

func wantedVersionOrLatest(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}

// nupmEntry is one line of registry.nuon: a package name plus the
// repository-relative path to its own detail record.
type nupmEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Nupm is the single-index nupm registry: registry.nuon enumerates every
// package's name and the path (relative to Dir) of a second nuon file
// holding one record per published version.
type Nupm struct {
	Dir      string
	packages map[string]string
}

// NewNupm loads Dir/registry.nuon. dir must already contain a
// registry.nuon file; callers (the loader) are expected to have checked
// for its existence before constructing a Nupm registry, mirroring
// numng.py's assertion in _load_registry.
func NewNupm(dir string) (*Nupm, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "registry.nuon"))
	if err != nil {
		return nil, numngerr.Wrapf(numngerr.Filesystem, err, "failed to read nupm registry.nuon in %s", dir)
	}
	var entries []nupmEntry
	if err := nuon.Decode(string(raw), &entries); err != nil {
		return nil, err
	}
	packages := make(map[string]string, len(entries))
	for _, e := range entries {
		packages[e.Name] = e.Path
	}
	return &Nupm{Dir: dir, packages: packages}, nil
}

func (r *Nupm) GetByName(name, wantedVersion string) (*manifest.Package, error) {
	relPath, ok := r.packages[name]
	if !ok {
		return nil, nil
	}
	detailPath, err := pathsafe.Join(r.Dir, strings.Split(relPath, "/")...)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(detailPath)
	if err != nil {
		return nil, numngerr.Wrapf(numngerr.Filesystem, err, "failed to read nupm package detail %s", detailPath)
	}
	var records []map[string]interface{}
	if err := nuon.Decode(string(raw), &records); err != nil {
		return nil, err
	}
	return FromNupmRecords(records, name, wantedVersion)
}

// FromNupmRecords picks the best-matching record from a decoded
// registry-entry detail file (a list of per-version records) and converts
// it to a Package. Exposed standalone so callers that already hold decoded
// nupm registry data (e.g. tests, or a future caching layer) need not
// re-decode it.
func FromNupmRecords(records []map[string]interface{}, name, wantedVersion string) (*manifest.Package, error) {
	candidates := map[string]interface{}{}
	for _, rec := range records {
		recName, _ := rec["name"].(string)
		if name != "" && recName != name {
			continue
		}
		v, _ := rec["version"].(string)
		candidates[v] = rec
	}

	wanted := version.Parse(wantedVersionOrLatest(wantedVersion))
	found, ok := version.PickGreatest(wanted, candidates)
	if !ok {
		return nil, nil
	}
	rec := found.(map[string]interface{})

	info, _ := rec["info"].(map[string]interface{})
	result := &manifest.Package{
		Name:          stringOrEmpty(rec["name"]),
		SourceType:    stringOrEmpty(rec["type"]),
		PackageFormat: "nupm",
	}
	if info != nil {
		result.SourceURI = stringOrEmpty(info["url"])
		result.SourceGitRef = stringOrEmpty(info["revision"])
	}
	result.SourcePathOffset = stringOrEmpty(rec["path"])
	return result, nil
}

func stringOrEmpty(v interface{}) string {
	s, _ := v.(string)
	return s
}
