// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestParse(t *testing.T) {
	content := `a0.png b0.png 0

a1.png  b1.png	1
   
a2.png b2.png -3
`
	records, err := Parse(strings.NewReader(content), "test", "/root/", 2)
	require.NoError(t, err)
	require.Len(t, records, 3, "one record per non-empty line")
	for _, r := range records {
		assert.Len(t, r.Paths, 2)
	}
	assert.Equal(t, []string{"/root/a0.png", "/root/b0.png"}, records[0].Paths)
	assert.Equal(t, []string{"/root/a1.png", "/root/b1.png"}, records[1].Paths)
	assert.Equal(t, 1, records[1].Label)
	assert.Equal(t, -3, records[2].Label)
}

func TestParseExtraIntegersLastIsLabel(t *testing.T) {
	records, err := Parse(strings.NewReader("a.png b.png 1 7\nc.png d.png 2\n"), "test", "", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"a.png", "b.png"}, records[0].Paths)
	assert.Equal(t, 7, records[0].Label)
	assert.Equal(t, 2, records[1].Label)
}

func TestParseRootIsConcatenated(t *testing.T) {
	records, err := Parse(strings.NewReader("x.png 1\n"), "test", "/data", 1)
	require.NoError(t, err)
	assert.Equal(t, "/datax.png", records[0].Paths[0], "root folder is not path-joined")
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name, content string
		groupSize     int
	}{
		{"too few tokens", "a.png b.png 1\na.png 2\n", 2},
		{"label missing", "a.png b.png\n", 2},
		{"label not integer", "a.png b.png one\n", 2},
		{"label is float", "a.png 1.5\n", 1},
		{"extra path", "a.png b.png c.png 1\n", 2},
		{"extra token not integer", "a.png b.png 1 x 7\n", 2},
		{"invalid group size", "a.png 1\n", 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := Parse(strings.NewReader(tc.content), "test", "", tc.groupSize)
			require.Error(t, err)
			require.ErrorIs(t, err, ErrFormat)
			assert.Nil(t, records, "no partial list should be returned")
		})
	}
}

func TestParseErrorNamesLine(t *testing.T) {
	_, err := Parse(strings.NewReader("a.png 1\n\nb.png\n"), "list.txt", "", 1)
	require.ErrorIs(t, err, ErrFormat)
	assert.Contains(t, err.Error(), "list.txt:3")
}

func TestRead(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("l/0.png r/0.png 4\nl/1.png r/1.png 5\n"), 0644))
	records, err := Read(filePath, dir+"/", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, dir+"/l/1.png", records[1].Paths[0])
	assert.Equal(t, 5, records[1].Label)

	_, err = Read(filepath.Join(dir, "missing.txt"), "", 2)
	require.ErrorIs(t, err, ErrNotFound)
}
