// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import "strings"

const pseudoDirHint = "set pseudo_dir to a directory containing QE-compatible .UPF pseudopotential files"

// hintPatterns matches the small set of worker error messages known to
// be environment configuration problems rather than controller bugs.
// Substrings follow the reference labeler's wording exactly.
var hintPatterns = []struct {
	substr string
	hint   string
}{
	{"Quantum ESPRESSO executable not found", "install Quantum ESPRESSO or point qe_command (or QE_COMMAND) at an absolute pw.x path"},
	{"pseudo_dir not found", pseudoDirHint},
	{"contains no .UPF files", pseudoDirHint},
	{"No UPF pseudopotential files found", pseudoDirHint},
	{"Could not auto-detect a pseudopotential directory", pseudoDirHint},
}

// recognizeHint returns a remediation hint when the worker message is
// a recognized configuration problem, else "".
func recognizeHint(message string) string {
	for _, p := range hintPatterns {
		if strings.Contains(message, p.substr) {
			return p.hint
		}
	}
	return ""
}
