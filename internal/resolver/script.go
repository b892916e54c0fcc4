// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import (
	"path/filepath"

	"github.com/Jan9103/numng/internal/home"
	"github.com/Jan9103/numng/internal/snippet"
)

const envConversionsLine = `$env.ENV_CONVERSIONS = ($env | get -i ENV_CONVERSIONS | default {} | upsert 'PATH' {|_| {'from_string': {|s| $s | split row (char esep)}, 'to_string': {|v| $v | str join (char esep)}}})`

// writeLoaderScript renders the full loader script: the ENV_CONVERSIONS
// PATH fixup, the nupm-home env assignments (when a home was configured),
// every env snippet in dependency order, then every use/script snippet in
// dependency order outside the export-env block.
func (l *Loader) writeLoaderScript() error {
	lines := []string{"export-env {", envConversionsLine}
	lines = append(lines, l.nupmHomeEnvLines()...)

	envOut, err := snippet.Sort(l.envSnippets)
	if err != nil {
		return err
	}
	lines = append(lines, envOut...)
	lines = append(lines, "}")

	combined := append(append([]snippet.Snippet{}, l.useSnippets...), l.scriptSnippets...)
	useOut, err := snippet.Sort(combined)
	if err != nil {
		return err
	}
	lines = append(lines, useOut...)

	return home.WriteScriptAtomic(l.opts.GenerateScript, lines)
}

// writeOverlayScript renders the lighter overlay variant: env assignments
// plus use snippets only, intended for `overlay use` rather than a full
// sourced script.
func (l *Loader) writeOverlayScript() error {
	lines := []string{"export-env {"}
	if l.opts.NupmHome != "" {
		lines = append(lines, "$env.NUPM_HOME = "+home.QuoteNu(l.opts.NupmHome))
	}

	envOut, err := snippet.Sort(l.envSnippets)
	if err != nil {
		return err
	}
	lines = append(lines, envOut...)
	lines = append(lines, "}")

	useOut, err := snippet.Sort(l.useSnippets)
	if err != nil {
		return err
	}
	lines = append(lines, useOut...)

	return home.WriteScriptAtomic(l.opts.GenerateOverlay, lines)
}

func (l *Loader) nupmHomeEnvLines() []string {
	if l.opts.NupmHome == "" {
		return nil
	}
	return []string{
		"$env.NUPM_HOME = " + home.QuoteNu(l.opts.NupmHome),
		"$env.NU_LIB_DIRS = ($env | get -i NU_LIB_DIRS | default [] | append " +
			home.QuoteNu(filepath.Join(l.opts.NupmHome, "modules")) + " | append " +
			home.QuoteNu(filepath.Join(l.opts.NupmHome, "overlays")) + ")",
		"$env.PATH = ($env.PATH | append " + home.QuoteNu(filepath.Join(l.opts.NupmHome, "bin")) + ")",
	}
}
