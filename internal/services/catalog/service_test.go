package catalog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func writeFile(t *testing.T, dir, name string, modTime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("dump content"), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}

func testConn(dir string) models.ConnectionConfig {
	return models.ConnectionConfig{Name: "main", DBName: "app", DumpPath: dir}
}

func TestList_FiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, dir, "main_2026-02-27T12-00-00.dump", base.Add(-48*time.Hour))
	writeFile(t, dir, "main_2026-03-01T12-00-00.dump", base)
	writeFile(t, dir, "main_2026-02-28T12-00-00.dump", base.Add(-24*time.Hour))
	// Excluded: wrong extension, in-progress, directory.
	writeFile(t, dir, "notes.txt", base)
	writeFile(t, dir, "main_2026-03-01T13-00-00.dump.partial", base)
	writeFile(t, dir, "main_old.DUMP", base) // extension match is case-sensitive
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.dump"), 0o750))

	svc := New(testLogger())
	artifacts, err := svc.List(testConn(dir))

	require.NoError(t, err)
	require.Len(t, artifacts, 3)
	assert.Equal(t, "main_2026-03-01T12-00-00.dump", artifacts[0].Name)
	assert.Equal(t, "main_2026-02-28T12-00-00.dump", artifacts[1].Name)
	assert.Equal(t, "main_2026-02-27T12-00-00.dump", artifacts[2].Name)
	assert.Equal(t, int64(len("dump content")), artifacts[0].SizeBytes)
}

func TestList_TieBrokenByNameDescending(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	writeFile(t, dir, "main_a.dump", ts)
	writeFile(t, dir, "main_b.dump", ts)

	svc := New(testLogger())
	artifacts, err := svc.List(testConn(dir))

	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "main_b.dump", artifacts[0].Name)
	assert.Equal(t, "main_a.dump", artifacts[1].Name)
}

func TestList_MissingDirectoryIsEmpty(t *testing.T) {
	svc := New(testLogger())
	artifacts, err := svc.List(testConn(filepath.Join(t.TempDir(), "never-created")))

	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestResolve_Success(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	path := writeFile(t, dir, "main_2026-03-01T12-00-00.dump", ts)

	svc := New(testLogger())
	artifact, err := svc.Resolve(testConn(dir), "main_2026-03-01T12-00-00.dump")

	require.NoError(t, err)
	assert.Equal(t, path, artifact.Path)
	assert.Equal(t, int64(len("dump content")), artifact.SizeBytes)
}

func TestResolve_NotFound(t *testing.T) {
	svc := New(testLogger())
	_, err := svc.Resolve(testConn(t.TempDir()), "main_2026-03-01T12-00-00.dump")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDumpNotFound))
}

func TestResolve_DeletedAfterListing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main_2026-03-01T12-00-00.dump", time.Now())

	svc := New(testLogger())
	_, err := svc.Resolve(testConn(dir), "main_2026-03-01T12-00-00.dump")
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))

	_, err = svc.Resolve(testConn(dir), "main_2026-03-01T12-00-00.dump")
	assert.True(t, errors.Is(err, ErrDumpNotFound))
}

func TestResolve_RejectsTraversalAndPartials(t *testing.T) {
	svc := New(testLogger())
	conn := testConn(t.TempDir())

	for _, name := range []string{
		"",
		"../outside.dump",
		"sub/inner.dump",
		"main.dump.partial",
		"main.sql",
	} {
		_, err := svc.Resolve(conn, name)
		assert.True(t, errors.Is(err, ErrDumpNotFound), "expected ErrDumpNotFound for %q", name)
	}
}
