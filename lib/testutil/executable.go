// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteExecutable writes script to directory/name with mode 0755 and
// returns the absolute path. The script is prefixed with a /bin/sh
// shebang.
//
//	binary := testutil.WriteExecutable(t, t.TempDir(), "anvil", `echo Listening; exec sleep 60`)
func WriteExecutable(t *testing.T, directory, name, script string) string {
	t.Helper()
	path := filepath.Join(directory, name)
	content := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("writing executable %s: %v", path, err)
	}
	return path
}
