// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-fanout.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runtimeEnv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvSetsPlainAndQuotedVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nFOO=bar\nexport BAZ=\"line\\nbreak\"\n"), 0o644))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "bar", os.Getenv("FOO"))
	assert.Equal(t, "line\nbreak", os.Getenv("BAZ"))
}

func TestLoadEnvRejectsInlineHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOO=bar # inline\n"), 0o644))

	assert.Error(t, LoadEnv(path))
}

func TestSystemdNotifyNoopWithoutSocket(t *testing.T) {
	os.Unsetenv("NOTIFY_SOCKET")
	assert.NotPanics(t, func() { SystemdNotify(true, "running") })
}
