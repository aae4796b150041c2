package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage_Upload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir, "https://replays.example.com", nil)
	require.NoError(t, err)

	url, err := s.Upload(context.Background(), "s1/123.ogg", strings.NewReader("audio-bytes"), "audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "https://replays.example.com/s1/123.ogg", url)

	data, err := os.ReadFile(filepath.Join(dir, "s1", "123.ogg"))
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
}

func TestFileStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), "", nil)
	require.NoError(t, err)

	_, err = s.Upload(context.Background(), "../outside", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)

	_, err = s.Upload(context.Background(), "/etc/passwd", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)
}

func TestFileStorage_PublicURLWithoutBase(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir, "", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "s1/replay"), s.PublicURL("s1/replay"))
}
