package localdisk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoveFileWithinFilesystem(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "spill")
	dst := filepath.Join(dir, "data")
	require.Nil(t, os.WriteFile(src, []byte("abc"), 0644))
	require.Nil(t, moveFile(src, dst))
	require.NoFileExists(t, src)
	data, err := os.ReadFile(dst)
	require.Nil(t, err)
	require.Equal(t, "abc", string(data))
}

func TestMoveFileOnlyCopiesAcrossFilesystems(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "spill")
	require.Nil(t, os.WriteFile(src, []byte("abc"), 0644))
	// a missing destination directory is reported as the rename failure, without a copy attempt
	err := moveFile(src, filepath.Join(dir, "missing", "data"))
	require.IsType(t, &os.LinkError{}, err)
	require.FileExists(t, src)
}
