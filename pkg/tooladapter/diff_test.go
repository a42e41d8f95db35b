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

import "testing"

const sampleDiff = `--- a/pkg/foo.go
+++ b/pkg/foo.go
@@ -1,1 +1,2 @@
 package foo
+// added
`

func TestValidateDiffRejectsEmptyDiffForOutputKindDiff(t *testing.T) {
	dv := validateDiff("", OutputDiff, []string{"pkg"})
	if dv.ParsesAsUnifiedDiff {
		t.Fatal("expected empty diff to fail parsing")
	}
	if dv.Reason == "" {
		t.Fatal("expected a reason for the rejection")
	}
}

func TestValidateDiffAcceptsWellFormedDiffWithinAllowList(t *testing.T) {
	dv := validateDiff(sampleDiff, OutputDiff, []string{"pkg"})
	if !dv.ParsesAsUnifiedDiff || !dv.WithinAllowList || !dv.MatchesOutputKind {
		t.Fatalf("expected a valid in-allow-list diff, got %+v", dv)
	}
}

func TestValidateDiffFlagsPathsOutsideAllowList(t *testing.T) {
	dv := validateDiff(sampleDiff, OutputDiff, []string{"cmd"})
	if dv.WithinAllowList {
		t.Fatal("expected pkg/foo.go to be flagged as outside the cmd-only allow-list")
	}
	if len(dv.ViolatingPaths) != 1 || dv.ViolatingPaths[0] != "pkg/foo.go" {
		t.Fatalf("unexpected violating paths: %+v", dv.ViolatingPaths)
	}
}

func TestValidateDiffRejectsNonDiffTextForOutputKindDiff(t *testing.T) {
	dv := validateDiff("just some prose, not a diff", OutputDiff, []string{"pkg"})
	if dv.ParsesAsUnifiedDiff {
		t.Fatal("expected non-diff text to fail parsing")
	}
}

func TestValidateDiffRejectsNonEmptyDiffForNonDiffOutputKind(t *testing.T) {
	dv := validateDiff(sampleDiff, OutputAnalysis, nil)
	if dv.MatchesOutputKind {
		t.Fatal("expected a non-empty diff alongside output_kind=analysis to mismatch")
	}
}

func TestValidateDiffAcceptsEmptyDiffForNonDiffOutputKind(t *testing.T) {
	dv := validateDiff("", OutputAnalysis, nil)
	if !dv.MatchesOutputKind {
		t.Fatal("expected an empty diff alongside output_kind=analysis to match")
	}
}

func TestCountLines(t *testing.T) {
	if got := countLines(""); got != 0 {
		t.Fatalf("expected 0 lines for empty diff, got %d", got)
	}
	if got := countLines("a\nb\nc"); got != 3 {
		t.Fatalf("expected 3 lines, got %d", got)
	}
}
