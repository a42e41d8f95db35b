// Copyright 2025 Meridianstack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tooladapter

import (
	"path"
	"strings"
)

// validateDiff enforces the diff-only invariant (H3): when outputKind is
// "diff" the payload must be a non-empty, parseable unified diff, and every
// path it touches must fall within allowedPaths. For any other output kind
// the diff is expected to be empty; a non-empty diff there is a mismatch.
func validateDiff(diff string, outputKind OutputKind, allowedPaths []string) DiffValidation {
	if outputKind != OutputDiff {
		if strings.TrimSpace(diff) != "" {
			return DiffValidation{MatchesOutputKind: false, Reason: "non-empty diff with output_kind=" + string(outputKind)}
		}
		return DiffValidation{MatchesOutputKind: true}
	}

	if strings.TrimSpace(diff) == "" {
		return DiffValidation{Reason: "output_kind=diff requires a non-empty diff"}
	}

	files, ok := unifiedDiffFiles(diff)
	if !ok {
		return DiffValidation{Reason: "diff does not parse as a unified diff"}
	}

	var violating []string
	for _, f := range files {
		if !pathAllowed(f, allowedPaths) {
			violating = append(violating, f)
		}
	}

	return DiffValidation{
		ParsesAsUnifiedDiff: true,
		WithinAllowList:     len(violating) == 0,
		MatchesOutputKind:   true,
		ViolatingPaths:      violating,
	}
}

// unifiedDiffFiles extracts target file paths from a unified diff's "+++"
// headers. ok is false if no such header is found, i.e. the text is not a
// unified diff at all.
func unifiedDiffFiles(diff string) ([]string, bool) {
	var files []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		f := strings.TrimPrefix(line, "+++ ")
		f = strings.TrimPrefix(f, "b/")
		if tab := strings.IndexByte(f, '\t'); tab >= 0 {
			f = f[:tab]
		}
		f = strings.TrimSpace(f)
		if f == "" || f == "/dev/null" {
			continue
		}
		files = append(files, f)
	}
	return files, len(files) > 0
}

// pathAllowed reports whether f falls within one of the allow-listed
// directories or files. An empty allow-list permits nothing — callers must
// configure it explicitly, matching the "only within the configured
// allow-list" language in spec.md §4.4.
func pathAllowed(f string, allowedPaths []string) bool {
	clean := path.Clean(f)
	for _, allowed := range allowedPaths {
		a := path.Clean(allowed)
		if clean == a || strings.HasPrefix(clean, a+"/") {
			return true
		}
	}
	return false
}

func countLines(diff string) int {
	if diff == "" {
		return 0
	}
	return strings.Count(diff, "\n") + 1
}
