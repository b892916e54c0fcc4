// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"github.com/Jan9103/numng/internal/home"
	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/numngerr"
	"github.com/Jan9103/numng/internal/pathsafe"
	"github.com/Jan9103/numng/internal/snippet"
)

// loadNumng interprets a numng-format package: its own numng.json (if
// present; absent numng.json falls back to the declaring package's
// extra_data, letting a manifest author inline a dependency's numng-format
// keys directly) describes nested depends, an optional build step, file
// links, nu plugins/libs, shell-config snippets, and exposed binaries.
func (l *Loader) loadNumng(pkg *manifest.Package, numngJSONPath string, basePath string) error {
	var data map[string]interface{}
	if numngJSONPath != "" {
		raw, err := os.ReadFile(numngJSONPath)
		if err != nil {
			return numngerr.Wrapf(numngerr.Filesystem, err, "failed to read %s", numngJSONPath)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return numngerr.Wrapf(numngerr.External, err, "invalid numng.json in %s (not an object)", pkg.Name)
		}
		for _, rawDep := range listify(data["depends"]) {
			depMap, ok := rawDep.(map[string]interface{})
			if !ok {
				return numngerr.New(numngerr.Validation, "package from numng.json in %s not found (invalid dependency entry)", pkg.Name)
			}
			depPkg, err := manifest.FromMap(depMap, false)
			if err != nil {
				return err
			}
			base, err := l.downloadPackage(depPkg)
			if err != nil {
				return err
			}
			l.queue = append(l.queue, queueItem{pkg: depPkg, basePath: base})
		}
	} else {
		l.opts.Log.Debugf("loadNumng: falling back to package.ExtraData (numng.json absent)")
		data = pkg.ExtraData
	}
	if data == nil {
		data = map[string]interface{}{}
	}

	if buildCmd, ok := data["build_command"]; ok {
		cmd, _ := buildCmd.(string)
		if !l.allowBuildCommands {
			return numngerr.New(numngerr.Policy, "package %s contains a build_command; to use this package, allow those by adding \"allow_build_commands\": true to your config", pkg.Name)
		}
		l.opts.Log.Debugf("Building %s: %s", pkg.Name, cmd)
		build := exec.Command("nu", "--no-config-file", "-c", cmd)
		build.Dir = basePath
		build.Stdout = nil
		if err := build.Run(); err != nil {
			return numngerr.Wrapf(numngerr.External, err, "build_command for %s failed", pkg.Name)
		}
	}

	if linkin, ok := data["linkin"].(map[string]interface{}); ok {
		if err := l.loadNumngLinkin(pkg, basePath, linkin); err != nil {
			return err
		}
	}

	for _, rawPlugin := range listify(data["nu_plugins"]) {
		plugin, _ := rawPlugin.(string)
		pluginPath, err := pathsafe.Join(basePath, strings.Split(plugin, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "security error: %s tried to register a plugin outside of its directory", pkg.Name)
		}
		l.nuPluginPaths = append(l.nuPluginPaths, pluginPath)
	}

	if nuLibs, ok := data["nu_libs"].(map[string]interface{}); ok {
		for name, rawRel := range nuLibs {
			rel, _ := rawRel.(string)
			absPath, err := pathsafe.Join(basePath, strings.Split(rel, "/")...)
			if err != nil {
				return numngerr.New(numngerr.Containment, "security error: %s tried to register a lib outside of its directory", pkg.Name)
			}
			l.opts.Log.Debugf("Registered module %s for %s", name, pkg.Name)
			if err := l.registerNupmModule(name, absPath); err != nil {
				return err
			}
		}
	}

	if sc, ok := data["shell_config"].(map[string]interface{}); ok {
		if err := l.loadNumngShellConfig(pkg, basePath, sc); err != nil {
			return err
		}
	}

	if bin, ok := data["bin"].(map[string]interface{}); ok {
		for name, rawRel := range bin {
			rel, _ := rawRel.(string)
			absPath, err := pathsafe.Join(basePath, strings.Split(rel, "/")...)
			if err != nil {
				return numngerr.New(numngerr.Containment, "security error: %s tried to register a binary outside of its path", pkg.Name)
			}
			l.opts.Log.Debugf("registering binary: %s from %s", name, pkg.Name)
			if err := l.registerNupmBinary(name, absPath); err != nil {
				return err
			}
		}
	}

	return nil
}

func (l *Loader) loadNumngLinkin(pkg *manifest.Package, basePath string, linkin map[string]interface{}) error {
	for rawLinkinPath, rawLinkinDecl := range linkin {
		linkinPath := rawLinkinPath
		var repoPath string
		hasRepoPath := false
		if idx := strings.Index(linkinPath, ":"); idx >= 0 {
			repoPath = linkinPath[:idx]
			linkinPath = linkinPath[idx+1:]
			hasRepoPath = true
		}
		absLinkinPath, err := pathsafe.Join(basePath, strings.Split(linkinPath, "/")...)
		if err != nil {
			return numngerr.New(numngerr.Containment, "package tried to linkin outside of its own directory: %s to %s", pkg.Name, linkinPath)
		}

		declMap, ok := rawLinkinDecl.(map[string]interface{})
		if !ok {
			return numngerr.New(numngerr.Validation, "invalid linkin declaration in %s", pkg.Name)
		}
		linkinPkg, err := manifest.FromMap(declMap, false)
		if err != nil {
			return err
		}
		l.opts.Log.Debugf("linkin: path=%s target=%s source=%s", absLinkinPath, pkg.Name, linkinPkg.Name)
		linkinBase, err := l.downloadPackage(linkinPkg)
		if err != nil {
			return err
		}
		if hasRepoPath {
			joined, err := pathsafe.Join(linkinBase, strings.Split(repoPath, "/")...)
			if err != nil {
				return numngerr.New(numngerr.Containment, "security issue: linkin package-rel-path is outside of package")
			}
			linkinBase = joined
		}

		// The link always lands at absLinkinPath, inside the declaring
		// package's own directory - independent of whether a nupm home is
		// configured (spec §4.6; numng.py:478-492) - and is only actually
		// created after the loader script has been emitted (spec §4.8/§5),
		// alongside every other deferred home link.
		l.linkPlans = append(l.linkPlans, home.Link{Source: linkinBase, Target: absLinkinPath})
	}
	return nil
}

func (l *Loader) loadNumngShellConfig(pkg *manifest.Package, basePath string, sc map[string]interface{}) error {
	deps := depNames(pkg)
	for _, rawSrc := range listify(sc["source"]) {
		srcFile, err := l.resolveShellConfigPath(pkg, basePath, rawSrc)
		if err != nil {
			return err
		}
		l.opts.Log.Debugf("source file found: %s", srcFile)
		l.scriptSnippets = append(l.scriptSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "source " + home.QuoteNu(srcFile)})
	}
	for _, rawUse := range listify(sc["use"]) {
		useFile, err := l.resolveShellConfigPath(pkg, basePath, rawUse)
		if err != nil {
			return err
		}
		l.opts.Log.Debugf("use file found: %s", useFile)
		l.useSnippets = append(l.useSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "export use " + home.QuoteNu(useFile)})
	}
	for _, rawUseAll := range listify(sc["use_all"]) {
		useFile, err := l.resolveShellConfigPath(pkg, basePath, rawUseAll)
		if err != nil {
			return err
		}
		l.opts.Log.Debugf("use_all file found: %s", useFile)
		l.useSnippets = append(l.useSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "export use " + home.QuoteNu(useFile) + " *"})
	}
	for _, rawSrcEnv := range listify(sc["source_env"]) {
		srcEnvFile, err := l.resolveShellConfigPath(pkg, basePath, rawSrcEnv)
		if err != nil {
			return err
		}
		l.opts.Log.Debugf("load_env file found: %s", srcEnvFile)
		l.envSnippets = append(l.envSnippets, snippet.Snippet{Name: pkg.Name, Depends: deps, Text: "source-env " + home.QuoteNu(srcEnvFile)})
	}
	return nil
}

func (l *Loader) resolveShellConfigPath(pkg *manifest.Package, basePath string, raw interface{}) (string, error) {
	rel, _ := raw.(string)
	p, err := pathsafe.Join(basePath, strings.Split(rel, "/")...)
	if err != nil {
		return "", numngerr.New(numngerr.Containment, "security error: %s tried to register a shell_config outside of its directory", pkg.Name)
	}
	return p, nil
}

// listify mirrors numng.py's _listify at call sites that decode raw JSON
// directly rather than going through manifest.FromMap.
func listify(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if list, ok := v.([]interface{}); ok {
		return list
	}
	return []interface{}{v}
}
