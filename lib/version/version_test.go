// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"strings"
	"testing"
)

func TestCommitInfo(t *testing.T) {
	tests := []struct {
		name          string
		injected      string
		injectedDirty bool
		settings      map[string]string
		wantCommit    string
		wantDirty     bool
	}{
		{
			name:          "injected wins",
			injected:      "abc1234",
			injectedDirty: true,
			settings:      map[string]string{"vcs.revision": "ffffffffffff", "vcs.modified": "false"},
			wantCommit:    "abc1234",
			wantDirty:     true,
		},
		{
			name:       "stamped revision",
			injected:   "unknown",
			settings:   map[string]string{"vcs.revision": "0123456789abcdef", "vcs.modified": "true"},
			wantCommit: "0123456",
			wantDirty:  true,
		},
		{
			name:       "nothing known",
			injected:   "unknown",
			settings:   map[string]string{},
			wantCommit: "unknown",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			commit, dirty := commitInfo(test.injected, test.injectedDirty, test.settings)
			if commit != test.wantCommit || dirty != test.wantDirty {
				t.Errorf("commitInfo = (%q, %v), want (%q, %v)", commit, dirty, test.wantCommit, test.wantDirty)
			}
		})
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Version+" (") || !strings.Contains(full, "Go: go") {
		t.Errorf("Full() = %q", full)
	}
}
