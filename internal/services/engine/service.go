// Package engine orchestrates dump and restore runs across the connection
// registry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/registry"
	"github.com/pgkeeper/pgkeeper/internal/services/catalog"
	"github.com/pgkeeper/pgkeeper/internal/services/dump"
	"github.com/pgkeeper/pgkeeper/internal/services/offsite"
	"github.com/pgkeeper/pgkeeper/internal/services/restore"
	"github.com/pgkeeper/pgkeeper/internal/services/retention"
	"github.com/pgkeeper/pgkeeper/internal/services/wol"
	"github.com/rs/zerolog"
)

// ErrOperationInProgress is returned when a dump or restore is already
// running for the same connection. Requests are rejected, not queued: two
// runs racing the same database would corrupt the wipe/restore sequencing.
var ErrOperationInProgress = errors.New("an operation is already in progress for this connection")

// Service is the façade consumed by the CLI.
type Service interface {
	Dump(ctx context.Context, name string) (*models.OperationResult, error)
	ListDumps(name string) ([]models.DumpArtifact, error)
	Restore(ctx context.Context, req models.RestoreRequest) (*models.OperationResult, error)
	Prune(ctx context.Context, name string) (int, error)
}

// Impl implements the engine Service.
type Impl struct {
	registry   *registry.Registry
	catalogSvc catalog.Service
	dumpSvc    dump.Service
	restoreSvc restore.Service
	wolSvc     wol.Service
	offsiteSvc offsite.Service
	logger     zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a new engine over the given registry.
func New(logger zerolog.Logger, reg *registry.Registry) *Impl {
	return &Impl{
		registry:   reg,
		catalogSvc: catalog.New(logger),
		dumpSvc:    dump.New(logger),
		restoreSvc: restore.New(logger),
		wolSvc:     wol.New(logger),
		offsiteSvc: offsite.New(logger),
		logger:     logger,
		active:     make(map[string]struct{}),
	}
}

// NewWithServices creates a new engine with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	reg *registry.Registry,
	catalogSvc catalog.Service,
	dumpSvc dump.Service,
	restoreSvc restore.Service,
	wolSvc wol.Service,
	offsiteSvc offsite.Service,
) *Impl {
	return &Impl{
		registry:   reg,
		catalogSvc: catalogSvc,
		dumpSvc:    dumpSvc,
		restoreSvc: restoreSvc,
		wolSvc:     wolSvc,
		offsiteSvc: offsiteSvc,
		logger:     logger,
		active:     make(map[string]struct{}),
	}
}

// acquire marks the connection busy for the whole run, including the wipe
// step. Operations against different connections are independent.
func (s *Impl) acquire(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[name]; busy {
		return fmt.Errorf("%w: %q", ErrOperationInProgress, name)
	}
	s.active[name] = struct{}{}
	return nil
}

func (s *Impl) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, name)
}

// Dump runs a backup for the named connection. On success the artifact is
// optionally copied offsite; an upload failure is logged but does not fail
// the dump, because the artifact is already durable locally.
func (s *Impl) Dump(ctx context.Context, name string) (*models.OperationResult, error) {
	conn, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}

	if err := s.acquire(name); err != nil {
		return nil, err
	}
	defer s.release(name)

	if err := s.wake(ctx, conn); err != nil {
		return nil, err
	}

	result, err := s.dumpSvc.Execute(ctx, conn)
	if err != nil {
		return nil, err
	}

	if result.Succeeded() && conn.S3 != nil {
		key, err := s.offsiteSvc.Upload(ctx, *conn.S3, result.Artifact)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("connection", name).
				Str("artifact", result.Artifact).
				Msg("offsite copy failed, local artifact is intact")
		} else {
			s.logger.Info().
				Str("connection", name).
				Str("key", key).
				Msg("artifact copied offsite")
		}
	}

	return result, nil
}

// ListDumps returns the completed artifacts for the named connection,
// newest first.
func (s *Impl) ListDumps(name string) ([]models.DumpArtifact, error) {
	conn, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return s.catalogSvc.List(conn)
}

// Restore runs a restore for the request's connection. Validation failures
// (unknown connection, disabled restore, busy connection, missing artifact)
// are returned as errors before any side effect; execution failures come
// back inside the OperationResult.
func (s *Impl) Restore(ctx context.Context, req models.RestoreRequest) (*models.OperationResult, error) {
	conn, err := s.registry.Get(req.ConnectionName)
	if err != nil {
		return nil, err
	}

	if err := s.acquire(req.ConnectionName); err != nil {
		return nil, err
	}
	defer s.release(req.ConnectionName)

	// The disabled check lives in the restore service, ahead of the wake
	// step here: a disabled connection must not even be woken.
	if conn.PreventRestore {
		return nil, fmt.Errorf("%w: %q", restore.ErrRestoreDisabled, conn.Name)
	}

	if err := s.wake(ctx, conn); err != nil {
		return nil, err
	}

	return s.restoreSvc.Execute(ctx, conn, req)
}

// Prune applies the connection's retention policy to its local catalog and
// returns the number of artifacts deleted. Deletion only ever happens here,
// on explicit request.
func (s *Impl) Prune(ctx context.Context, name string) (int, error) {
	conn, err := s.registry.Get(name)
	if err != nil {
		return 0, err
	}
	if conn.Retention == nil || !conn.Retention.Enabled() {
		return 0, fmt.Errorf("connection %q has no retention policy", name)
	}

	if err := s.acquire(name); err != nil {
		return 0, err
	}
	defer s.release(name)

	artifacts, err := s.catalogSvc.List(conn)
	if err != nil {
		return 0, err
	}

	keep := retention.Select(artifacts, *conn.Retention)

	deleted := 0
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if _, ok := keep[a.Name]; ok {
			continue
		}
		if err := os.Remove(a.Path); err != nil {
			s.logger.Warn().
				Err(err).
				Str("artifact", a.Path).
				Msg("failed to delete expired artifact")
			continue
		}
		s.logger.Info().
			Str("connection", name).
			Str("artifact", a.Name).
			Msg("expired artifact deleted")
		deleted++
	}

	return deleted, nil
}

// wake sends a WOL packet and waits for the database port when the
// connection has a wake block configured.
func (s *Impl) wake(ctx context.Context, conn models.ConnectionConfig) error {
	if conn.Wake == nil {
		return nil
	}

	addr := net.JoinHostPort(conn.Host, fmt.Sprintf("%d", conn.Port))
	result, err := s.wolSvc.Wake(ctx, *conn.Wake, addr)
	if err != nil {
		return fmt.Errorf("waking %s: %w", conn.Name, err)
	}
	if result.Error != nil {
		return fmt.Errorf("waking %s: %w", conn.Name, result.Error)
	}
	if !result.TargetReady {
		return fmt.Errorf("waking %s: host did not become ready", conn.Name)
	}
	return nil
}
