package spool

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpool_CreateAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	f, err := s.Create("upload")
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, strings.HasPrefix(filepath.Base(f.Name()), "upload-"))
	assert.True(t, s.Exists(f.Name()))
	require.NoError(t, s.Remove(f.Name()))
	assert.False(t, s.Exists(f.Name()))
	assert.NoError(t, s.Remove(f.Name()))
}

func TestSpool_PreviewPathIsStable(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	a := s.PreviewPath("objects/1")
	assert.Equal(t, a, s.PreviewPath("objects/1"))
	assert.NotEqual(t, a, s.PreviewPath("objects/2"))
	assert.Equal(t, filepath.Join(s.Dir(), "previews"), filepath.Dir(a))
	assert.False(t, s.Exists(filepath.Dir(a)))
}

func TestDetectType(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "img")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o644))
	assert.Equal(t, "image/png", DetectType(png))

	assert.Equal(t, "application/octet-stream", DetectType(filepath.Join(dir, "missing")))
}
