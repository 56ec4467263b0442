package packager

import (
	"archive/zip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func zipNames(t *testing.T, bundle string) []string {
	t.Helper()
	zr, err := zip.OpenReader(bundle)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestPackager_Package(t *testing.T) {
	dir := t.TempDir()
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	mdl := writeFile(t, dir, "model.mdl", "mdl-bytes")
	smd := writeFile(t, dir, "model_ref.smd", "smd-bytes")
	original := writeFile(t, dir, "job1_input.fbx", "fbx-bytes")

	bundle := filepath.Join(dir, "job1_result.zip")
	err := p.Package(bundle, []string{mdl, smd}, []string{"[12:00:00] stage convert started"}, original)
	require.NoError(t, err)

	info, err := os.Stat(bundle)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	names := zipNames(t, bundle)
	assert.ElementsMatch(t, []string{
		"model.mdl",
		"model_ref.smd",
		"original_job1_input.fbx",
		"conversion.log",
	}, names)

	// No temp file left behind.
	_, err = os.Stat(bundle + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPackager_MissingArtifactFails(t *testing.T) {
	dir := t.TempDir()
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	bundle := filepath.Join(dir, "result.zip")
	err := p.Package(bundle, []string{filepath.Join(dir, "ghost.mdl")}, nil, "")
	require.Error(t, err)

	// A failed packaging never leaves a bundle, half-written or otherwise.
	_, statErr := os.Stat(bundle)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(bundle + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestPackager_CleanupWorkDir(t *testing.T) {
	dir := t.TempDir()
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	writeFile(t, dir, "model_ref.smd", "x")
	writeFile(t, dir, "model.qc", "x")
	bundle := writeFile(t, dir, "result.zip", "x")

	p.CleanupWorkDir(dir, bundle)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "result.zip", entries[0].Name())
}

func TestPackager_RemoveWorkDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "job-1")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, sub, "partial.smd", "x")

	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.RemoveWorkDir(sub)

	_, err := os.Stat(sub)
	assert.True(t, os.IsNotExist(err))
}
