// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPathList(t *testing.T) {
	home, err := ReplaceTildeInDir("~")
	require.NoError(t, err)
	list := strings.Join([]string{"/tmp/a.yaml", "", "~/b.yaml"}, string(os.PathListSeparator))
	paths, err := SplitPathList(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/a.yaml", filepath.Join(home, "b.yaml")}, paths)

	paths, err = SplitPathList("")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}
