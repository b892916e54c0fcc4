// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Jan9103/numng/internal/home"
	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/nuon"
	"github.com/Jan9103/numng/internal/pathsafe"
)

// loadNupm interprets a nupm-format package's nupm.nuon: a "module",
// "script", or "custom"-build package type, plus optional extra scripts
// and a nupm-style dependency list (resolved purely through registries,
// since nupm.nuon never carries source information of its own).
func (l *Loader) loadNupm(pkg *manifest.Package, nupmNuonPath, basePath string) error {
	raw, err := os.ReadFile(nupmNuonPath)
	if err != nil {
		return numngerr.Wrapf(numngerr.Filesystem, err, "failed to read %s", nupmNuonPath)
	}
	var data map[string]interface{}
	if err := nuon.Decode(string(raw), &data); err != nil {
		return err
	}
	if data == nil {
		return numngerr.New(numngerr.Validation, "invalid nupm.nuon in %s (not a record)", pkg.Name)
	}

	pkgType, _ := data["type"].(string)
	if pkgType == "" {
		return numngerr.New(numngerr.Validation, "invalid nupm.nuon in %s (missing type)", pkg.Name)
	}

	switch pkgType {
	case "module":
		name, _ := data["name"].(string)
		if name == "" {
			return numngerr.New(numngerr.Validation, "invalid nupm.nuon in %s (missing name)", pkg.Name)
		}
		modDir, err := pathsafe.Join(basePath, strings.Split(name, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "security error: %s tried to register a module outside of its directory", pkg.Name)
		}
		if !exists(modDir) {
			return numngerr.New(numngerr.Validation, "module-nupm-package %s does not contain a module dir", pkg.Name)
		}
		if err := l.registerNupmModule(name, modDir); err != nil {
			return err
		}
	case "script":
		scriptName := pkg.Name + ".nu"
		scriptPath, err := pathsafe.Join(basePath, strings.Split(scriptName, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "security error: %s tried to register a script outside of its directory", pkg.Name)
		}
		if exists(scriptPath) {
			if err := l.registerNupmBinary(scriptName, scriptPath); err != nil {
				return err
			}
		}
	case "custom":
		if !l.allowBuildCommands {
			return numngerr.New(numngerr.Policy, "cannot load nupm custom-type package %s (allow_build_commands is false)", pkg.Name)
		}
		buildScript := filepath.Join(basePath, "build.nu")
		if !exists(buildScript) {
			return numngerr.New(numngerr.Validation, "invalid nupm custom-type package %s (missing build.nu)", pkg.Name)
		}
		tmpDir, err := home.CopyIsolated(os.TempDir(), "")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmpDir)
		l.opts.Log.Debugf("Building %s (nupm-custom)", pkg.Name)
		build := exec.Command("nu", "--no-config", buildScript)
		build.Dir = tmpDir
		if err := build.Run(); err != nil {
			return numngerr.Wrapf(numngerr.External, err, "nupm-custom build for %s failed", pkg.Name)
		}
	default:
		return numngerr.New(numngerr.Validation, "failed to load nupm-package %s (unknown package type: %s)", pkg.Name, pkgType)
	}

	if rawScripts, ok := data["scripts"].([]interface{}); ok {
		for _, rawScript := range rawScripts {
			scriptSubpath, _ := rawScript.(string)
			absPath, err := pathsafe.Join(basePath, strings.Split(scriptSubpath, "/")...)
			if err != nil {
				return numngerr.New(numngerr.Containment, "security issue: %s tried to link %s as a script", pkg.Name, scriptSubpath)
			}
			if err := l.registerNupmBinary(filepath.Base(scriptSubpath), absPath); err != nil {
				return err
			}
		}
	}

	if rawDeps, ok := data["dependencies"]; ok {
		deps, err := parseNupmDependencies(rawDeps)
		if err != nil {
			return numngerr.Wrapf(numngerr.Validation, err, "invalid nupm.nuon %s (dependencies)", pkg.Name)
		}
		for _, d := range deps {
			if d.name == "nushell" {
				// a version-compatibility marker, not a real package
				continue
			}
			depPkg, err := l.registryGetByName(d.name, d.version)
			if err != nil {
				return err
			}
			if depPkg == nil {
				return numngerr.New(numngerr.Resolution, "failed to load %s (unknown dependency: %s/%s)", pkg.Name, d.name, d.version)
			}
			depBase, err := l.downloadPackage(depPkg)
			if err != nil {
				return err
			}
			l.queue = append(l.queue, queueItem{pkg: depPkg, basePath: depBase})
		}
	}

	return nil
}

type nupmDependency struct {
	name    string
	version string
}

// parseNupmDependencies accepts nupm.nuon's "dependencies" either as a list
// of "name" or "name/version" strings, or as a record mapping name to
// version.
func parseNupmDependencies(raw interface{}) ([]nupmDependency, error) {
	switch v := raw.(type) {
	case []interface{}:
		deps := make([]nupmDependency, 0, len(v))
		for _, item := range v {
			s, _ := item.(string)
			if idx := strings.LastIndex(s, "/"); idx >= 0 {
				deps = append(deps, nupmDependency{name: s[:idx], version: s[idx+1:]})
			} else {
				deps = append(deps, nupmDependency{name: s})
			}
		}
		return deps, nil
	case map[string]interface{}:
		deps := make([]nupmDependency, 0, len(v))
		for name, ver := range v {
			s, _ := ver.(string)
			deps = append(deps, nupmDependency{name: name, version: s})
		}
		return deps, nil
	default:
		return nil, numngerr.New(numngerr.Validation, "dependency list is neither a list nor a record")
	}
}
