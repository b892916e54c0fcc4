// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logsink provides the explicit logging sink the resolver writes
// to, in place of a package-level logger.
package logsink

import (
	"fmt"
	"io"
)

// Sink is the logging surface the resolver and its collaborators write to.
// A nil *Sink is valid and discards everything, so callers that don't care
// about build progress don't need to construct one.
type Sink struct {
	Out     io.Writer
	Verbose bool
}

// New returns a Sink that writes info-level lines to out and debug-level
// lines to out only when verbose is true.
func New(out io.Writer, verbose bool) *Sink {
	return &Sink{Out: out, Verbose: verbose}
}

// Infof logs a line unconditionally.
func (s *Sink) Infof(format string, args ...interface{}) {
	if s == nil || s.Out == nil {
		return
	}
	fmt.Fprintf(s.Out, "numng: "+format+"\n", args...)
}

// Debugf logs a line only when verbose logging is enabled.
func (s *Sink) Debugf(format string, args ...interface{}) {
	if s == nil || !s.Verbose {
		return
	}
	s.Infof(format, args...)
}

// Errorf logs a single-line error, matching the CLI's "one line on the log
// channel" contract for aborted builds.
func (s *Sink) Errorf(format string, args ...interface{}) {
	s.Infof(format, args...)
}
