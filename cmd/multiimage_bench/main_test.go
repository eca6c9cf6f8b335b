// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
source: /data/list.txt
image_group_size: 2
batch_size: 8
transform:
  crop_size: 16
`), 0o644))

	require.NoError(t, flag.Set("config", configPath))
	require.NoError(t, flag.Set("batch", "4"))
	require.NoError(t, flag.Set("shuffle", "true"))
	config, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/list.txt", config.Source)
	assert.Equal(t, 2, config.GroupSize)
	assert.Equal(t, 4, config.BatchSize, "flag set explicitly overrides the file")
	assert.True(t, config.Shuffle)
	assert.Equal(t, 16, config.Transform.CropSize)
	assert.True(t, config.IsColor)

	require.NoError(t, flag.Set("height", "10"))
	_, err = buildConfig()
	require.Error(t, err, "height without width")
}
