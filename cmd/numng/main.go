// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command numng is a thin CLI wrapper around the resolver: a "build"
// subcommand that resolves a package file and emits loader/overlay scripts
// and a nupm home, and an "init" subcommand that drops a bare-minimum
// package file into a directory. Full argument parsing is out of scope (spec
// §1 Non-goals) - this wires the two subcommands numng.py's main() exposes,
// nothing more.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Jan9103/numng/internal/logsink"
	"github.com/Jan9103/numng/internal/manifest"
	"github.com/Jan9103/numng/internal/resolver"
)

func main() {
	nuConfig := flag.Bool("n", false, "shortcut to target the shell-config package file")
	packageFile := flag.String("p", "", "the target package file")
	verbose := flag.Bool("v", false, "more verbose logging")
	flag.Usage = usage
	flag.CommandLine.Parse(os.Args[1:])

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	cmd := flag.Arg(0)

	log := logsink.New(os.Stderr, *verbose)

	switch cmd {
	case "build", "b":
		runBuild(log, resolveNuConfigDir(), *nuConfig, *packageFile, flag.Args()[1:])
	case "init", "i":
		runInit(log, resolveNuConfigDir(), *nuConfig)
	default:
		fmt.Fprintf(os.Stderr, "numng: no such command %q\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: numng [-n] [-p package-file] [-v] <build|init> [flags...]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  build   resolve the package file and emit a loader script / nupm home")
	fmt.Fprintln(os.Stderr, "  init    write a bare-minimum package file in the current directory (the nu-config directory with -n)")
}

// resolveNuConfigDir mirrors numng.py's assumption that the nu-config lives
// at ~/.config/nushell/numng (see nushell/nushell#9019).
func resolveNuConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "nushell", "numng")
}

func runBuild(log *logsink.Sink, nuConfigDir string, nuConfig bool, packageFile string, rest []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	nupmHome := fs.String("nupm-home", "", "nupm home directory")
	overlayFile := fs.String("o", "", "generate an overlay file at path")
	scriptFile := fs.String("s", "", "generate a script file for `source` loading at path")
	pullUpdates := fs.Bool("u", false, "pull updates for already installed packages")
	allowBuildCommands := fs.String("b", "", "override allow_build_commands (true/false)")
	fs.Parse(rest)

	if packageFile == "" && nuConfig {
		packageFile = filepath.Join(nuConfigDir, "numng.json")
	}
	if packageFile == "" {
		if _, err := os.Stat("numng.json"); err == nil {
			abs, _ := filepath.Abs("numng.json")
			packageFile = abs
		}
	}
	if packageFile == "" {
		log.Errorf("no package file specified; use -p or -n")
		os.Exit(1)
	}

	if *nupmHome == "" && nuConfig {
		*nupmHome = filepath.Join(baseDirectory(), "nu_config_nupm_home")
	}
	if *scriptFile == "" && nuConfig {
		*scriptFile = filepath.Join(nuConfigDir, "load_script.nu")
	}

	var allowBuild *bool
	switch *allowBuildCommands {
	case "true":
		v := true
		allowBuild = &v
	case "false":
		v := false
		allowBuild = &v
	}

	result, err := resolver.New(resolver.Options{
		NumngFilePath:          packageFile,
		GenerateScript:         *scriptFile,
		GenerateOverlay:        *overlayFile,
		NupmHome:               *nupmHome,
		DeleteExistingNupmHome: true,
		PullUpdates:            *pullUpdates,
		AllowBuildCommands:     allowBuild,
		GitStoreBase:           filepath.Join(baseDirectory(), "git_store"),
		Log:                    log,
	}).Run()
	if err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
	if nuConfig && len(result.PluginPaths) > 0 {
		log.Infof("nu_plugins to reconcile (add via `plugin add`, remove stale entries): %v", result.PluginPaths)
	}
}

func runInit(log *logsink.Sink, nuConfigDir string, nuConfig bool) {
	dir := "."
	if nuConfig {
		dir = nuConfigDir
		if _, err := os.Stat(dir); err != nil {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Errorf("failed to create %s: %s", dir, err)
				os.Exit(1)
			}
		}
	}

	numngJSON := filepath.Join(dir, "numng.json")
	if _, err := os.Stat(numngJSON); err != nil {
		name := filepath.Base(absOrSelf(dir))
		if nuConfig {
			name = "nu-config"
		}
		pkg := manifest.Default(name, nuConfig)
		if err := writeDefaultManifest(numngJSON, pkg); err != nil {
			log.Errorf("failed to write %s: %s", numngJSON, err)
			os.Exit(1)
		}
	}

	if nuConfig {
		loadScript := filepath.Join(dir, "load_script.nu")
		if _, err := os.Stat(loadScript); err != nil {
			if err := os.WriteFile(loadScript, nil, 0o644); err != nil {
				log.Errorf("failed to write %s: %s", loadScript, err)
				os.Exit(1)
			}
		}
		fmt.Printf("Please add `source %s` to the `$nu.config-path` file\n", loadScript)
	}
}

// writeDefaultManifest renders a manifest.Package produced by
// manifest.Default back into the plain JSON object numng.json expects -
// Package itself has no JSON tags since it is a parse target, not a
// serialization source.
func writeDefaultManifest(path string, pkg *manifest.Package) error {
	obj := map[string]interface{}{
		"name": pkg.Name,
		"registry": []map[string]interface{}{
			{
				"source_uri":     pkg.Registries[0].SourceURI,
				"package_format": pkg.Registries[0].PackageFormat,
				"path_offset":    pkg.Registries[0].SourcePathOffset,
			},
		},
	}
	if len(pkg.Depends) > 0 {
		deps := make([]map[string]interface{}, 0, len(pkg.Depends))
		for _, d := range pkg.Depends {
			deps = append(deps, map[string]interface{}{"name": d.Name})
		}
		obj["depends"] = deps
	}
	raw, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func absOrSelf(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// baseDirectory is numng's own state directory, used for the default
// nu-config nupm home and the shared git store - XDG_DATA_HOME when set,
// falling back to ~/.local/share/numng.
func baseDirectory() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "numng")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "numng")
	}
	return filepath.Join(home, ".local", "share", "numng")
}
