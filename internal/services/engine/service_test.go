package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/registry"
	"github.com/pgkeeper/pgkeeper/internal/services/catalog"
	"github.com/pgkeeper/pgkeeper/internal/services/restore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDump struct {
	executeFunc func(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error)
	mu          sync.Mutex
	calls       int
}

func (f *fakeDump) Execute(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.executeFunc != nil {
		return f.executeFunc(ctx, conn)
	}
	return &models.OperationResult{Status: models.StatusSucceeded}, nil
}

type fakeRestore struct {
	executeFunc func(ctx context.Context, conn models.ConnectionConfig, req models.RestoreRequest) (*models.OperationResult, error)
	calls       int
}

func (f *fakeRestore) Execute(ctx context.Context, conn models.ConnectionConfig, req models.RestoreRequest) (*models.OperationResult, error) {
	f.calls++
	if f.executeFunc != nil {
		return f.executeFunc(ctx, conn, req)
	}
	return &models.OperationResult{Status: models.StatusSucceeded}, nil
}

type fakeWol struct {
	wakeFunc func(ctx context.Context, cfg models.WakeConfig, addr string) (*models.WakeResult, error)
	calls    int
	lastAddr string
}

func (f *fakeWol) Wake(ctx context.Context, cfg models.WakeConfig, addr string) (*models.WakeResult, error) {
	f.calls++
	f.lastAddr = addr
	if f.wakeFunc != nil {
		return f.wakeFunc(ctx, cfg, addr)
	}
	return &models.WakeResult{PacketSent: true, TargetReady: true}, nil
}

type fakeOffsite struct {
	uploadFunc func(ctx context.Context, cfg models.S3Config, artifactPath string) (string, error)
	calls      int
}

func (f *fakeOffsite) Upload(ctx context.Context, cfg models.S3Config, artifactPath string) (string, error) {
	f.calls++
	if f.uploadFunc != nil {
		return f.uploadFunc(ctx, cfg, artifactPath)
	}
	return filepath.Base(artifactPath), nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type engineFixture struct {
	engine  *Impl
	dump    *fakeDump
	restore *fakeRestore
	wol     *fakeWol
	offsite *fakeOffsite
}

func newFixture(t *testing.T, conns ...models.ConnectionConfig) *engineFixture {
	t.Helper()
	reg, err := registry.New(conns)
	require.NoError(t, err)

	f := &engineFixture{
		dump:    &fakeDump{},
		restore: &fakeRestore{},
		wol:     &fakeWol{},
		offsite: &fakeOffsite{},
	}
	f.engine = NewWithServices(testLogger(), reg, catalog.New(testLogger()), f.dump, f.restore, f.wol, f.offsite)
	return f
}

func testConn(name, dir string) models.ConnectionConfig {
	return models.ConnectionConfig{
		Name:     name,
		Host:     "localhost",
		Port:     5432,
		DBName:   "app",
		User:     "postgres",
		DumpPath: dir,
	}
}

func TestDump_UnknownConnection(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	_, err := f.engine.Dump(context.Background(), "nope")

	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnknownConnection))
	assert.Zero(t, f.dump.calls)
}

func TestDump_Success(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	result, err := f.engine.Dump(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, result.Status)
	assert.Equal(t, 1, f.dump.calls)
	assert.Zero(t, f.wol.calls, "no wake block configured")
	assert.Zero(t, f.offsite.calls, "no s3 block configured")
}

func TestDump_SameConnectionRejected(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	started := make(chan struct{})
	release := make(chan struct{})
	f.dump.executeFunc = func(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error) {
		close(started)
		<-release
		return &models.OperationResult{Status: models.StatusSucceeded}, nil
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.engine.Dump(context.Background(), "main")
		firstDone <- err
	}()

	<-started

	_, err := f.engine.Dump(context.Background(), "main")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationInProgress))

	close(release)
	require.NoError(t, <-firstDone)

	// The slot frees up once the first run finishes.
	f.dump.executeFunc = nil
	_, err = f.engine.Dump(context.Background(), "main")
	require.NoError(t, err)
}

func TestDump_DifferentConnectionsRunConcurrently(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()), testConn("analytics", t.TempDir()))

	started := make(chan struct{})
	release := make(chan struct{})
	f.dump.executeFunc = func(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error) {
		if conn.Name == "main" {
			close(started)
			<-release
		}
		return &models.OperationResult{Status: models.StatusSucceeded}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Dump(context.Background(), "main")
		done <- err
	}()

	<-started

	_, err := f.engine.Dump(context.Background(), "analytics")
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestDump_WakesConfiguredHost(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.Wake = &models.WakeConfig{MACAddress: "aa:bb:cc:dd:ee:ff", Timeout: time.Minute}
	f := newFixture(t, conn)

	_, err := f.engine.Dump(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, 1, f.wol.calls)
	assert.Equal(t, "localhost:5432", f.wol.lastAddr)
}

func TestDump_WakeFailureAbortsDump(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.Wake = &models.WakeConfig{MACAddress: "aa:bb:cc:dd:ee:ff", Timeout: time.Minute}
	f := newFixture(t, conn)

	f.wol.wakeFunc = func(ctx context.Context, cfg models.WakeConfig, addr string) (*models.WakeResult, error) {
		return &models.WakeResult{PacketSent: true, Error: errors.New("timeout waiting for localhost:5432")}, nil
	}

	_, err := f.engine.Dump(context.Background(), "main")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "waking")
	assert.Zero(t, f.dump.calls)
}

func TestDump_UploadsOffsiteOnSuccess(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.S3 = &models.S3Config{Bucket: "pg-dumps"}
	f := newFixture(t, conn)

	artifact := filepath.Join(conn.DumpPath, "main_2024-01-01T00-00-00.dump")
	f.dump.executeFunc = func(ctx context.Context, c models.ConnectionConfig) (*models.OperationResult, error) {
		return &models.OperationResult{Status: models.StatusSucceeded, Artifact: artifact}, nil
	}

	result, err := f.engine.Dump(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, result.Status)
	assert.Equal(t, 1, f.offsite.calls)
}

func TestDump_OffsiteFailureDoesNotFailDump(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.S3 = &models.S3Config{Bucket: "pg-dumps"}
	f := newFixture(t, conn)

	f.offsite.uploadFunc = func(ctx context.Context, cfg models.S3Config, artifactPath string) (string, error) {
		return "", errors.New("access denied")
	}

	result, err := f.engine.Dump(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, result.Status)
}

func TestDump_NoUploadOnFailedDump(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.S3 = &models.S3Config{Bucket: "pg-dumps"}
	f := newFixture(t, conn)

	f.dump.executeFunc = func(ctx context.Context, c models.ConnectionConfig) (*models.OperationResult, error) {
		return &models.OperationResult{Status: models.StatusFailed, Error: errors.New("pg_dump exited 1")}, nil
	}

	result, err := f.engine.Dump(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Zero(t, f.offsite.calls)
}

func TestRestore_DisabledBeforeWake(t *testing.T) {
	conn := testConn("main", t.TempDir())
	conn.PreventRestore = true
	conn.Wake = &models.WakeConfig{MACAddress: "aa:bb:cc:dd:ee:ff", Timeout: time.Minute}
	f := newFixture(t, conn)

	_, err := f.engine.Restore(context.Background(), models.RestoreRequest{
		ConnectionName: "main",
		DumpName:       "main_2024-01-01T00-00-00.dump",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, restore.ErrRestoreDisabled))
	assert.Zero(t, f.wol.calls, "disabled connection must not be woken")
	assert.Zero(t, f.restore.calls)
}

func TestRestore_UnknownConnection(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	_, err := f.engine.Restore(context.Background(), models.RestoreRequest{ConnectionName: "nope"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnknownConnection))
}

func TestRestore_BlockedWhileDumpRuns(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	started := make(chan struct{})
	release := make(chan struct{})
	f.dump.executeFunc = func(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error) {
		close(started)
		<-release
		return &models.OperationResult{Status: models.StatusSucceeded}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.Dump(context.Background(), "main")
		done <- err
	}()

	<-started

	_, err := f.engine.Restore(context.Background(), models.RestoreRequest{ConnectionName: "main"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOperationInProgress))
	assert.Zero(t, f.restore.calls)

	close(release)
	require.NoError(t, <-done)
}

func TestListDumps(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main_2024-01-01T00-00-00.dump"), []byte("x"), 0o600))

	f := newFixture(t, testConn("main", dir))

	artifacts, err := f.engine.ListDumps("main")

	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, "main_2024-01-01T00-00-00.dump", artifacts[0].Name)
}

func TestPrune_RequiresPolicy(t *testing.T) {
	f := newFixture(t, testConn("main", t.TempDir()))

	_, err := f.engine.Prune(context.Background(), "main")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention policy")
}

func TestPrune_DeletesOnlyExpired(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "main_2024-01-01T00-00-00.dump")
	recent := filepath.Join(dir, "main_2024-06-01T00-00-00.dump")
	for i, p := range []string{old, recent} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
		ts := time.Date(2024, time.Month(1+5*i), 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, os.Chtimes(p, ts, ts))
	}

	conn := testConn("main", dir)
	conn.Retention = &models.RetentionPolicy{KeepLast: 1}
	f := newFixture(t, conn)

	deleted, err := f.engine.Prune(context.Background(), "main")

	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
}
