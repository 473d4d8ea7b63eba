// Package restore runs pg_restore against a selected dump artifact,
// optionally wiping the target schema first.
package restore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/services/catalog"
	"github.com/pgkeeper/pgkeeper/internal/services/executor"
	"github.com/pgkeeper/pgkeeper/internal/services/wiper"
	"github.com/rs/zerolog"
)

// ErrRestoreDisabled is returned for connections flagged prevent_restore.
// Checked before any destructive action and before artifact resolution.
var ErrRestoreDisabled = errors.New("restore is disabled for this connection")

// Service defines the interface for restore operations.
type Service interface {
	Execute(ctx context.Context, conn models.ConnectionConfig, req models.RestoreRequest) (*models.OperationResult, error)
}

// Impl implements the restore Service.
type Impl struct {
	catalog  catalog.Service
	wiper    wiper.Service
	executor executor.Service
	logger   zerolog.Logger
}

// New creates a new restore service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		catalog:  catalog.New(logger),
		wiper:    wiper.New(logger),
		executor: executor.New(logger),
		logger:   logger,
	}
}

// NewWithServices creates a new restore service with custom collaborators
// (for testing).
func NewWithServices(logger zerolog.Logger, cat catalog.Service, wipe wiper.Service, exec executor.Service) *Impl {
	return &Impl{
		catalog:  cat,
		wiper:    wipe,
		executor: exec,
		logger:   logger,
	}
}

// Execute validates the request, optionally wipes the target schema, then
// runs pg_restore. A disabled connection is rejected before anything else
// happens, so it can never trigger a wipe. If the wipe fails the restore
// process is never started: restoring on top of an indeterminate partial
// wipe would make the failure mode ambiguous.
func (s *Impl) Execute(ctx context.Context, conn models.ConnectionConfig, req models.RestoreRequest) (*models.OperationResult, error) {
	if conn.PreventRestore {
		return nil, fmt.Errorf("%w: %q", ErrRestoreDisabled, conn.Name)
	}

	artifact, err := s.catalog.Resolve(conn, req.DumpName)
	if err != nil {
		return nil, err
	}

	result := &models.OperationResult{RunID: uuid.NewString()}

	s.logger.Info().
		Str("run_id", result.RunID).
		Str("connection", conn.Name).
		Str("artifact", artifact.Path).
		Bool("clean_first", req.CleanFirst).
		Msg("starting restore")

	if req.CleanFirst {
		if err := s.wiper.WipeAllTables(ctx, conn); err != nil {
			result.Status = models.StatusFailed
			result.Error = err
			s.logger.Error().
				Str("run_id", result.RunID).
				Err(err).
				Msg("schema wipe failed, restore not attempted")
			return result, nil
		}
	}

	args := []string{
		"-h", conn.Host,
		"-p", fmt.Sprintf("%d", conn.Port),
		"-U", conn.User,
		"-d", conn.DBName,
		"--no-owner",
		"--no-privileges",
		artifact.Path,
	}

	var env []string
	if conn.Password != "" {
		env = append(env, fmt.Sprintf("PGPASSWORD=%s", conn.Password))
	}

	procResult, err := s.executor.Run(ctx, executor.Command{
		Name: "pg_restore",
		Args: args,
		Env:  env,
	})
	if err != nil {
		result.Status = models.StatusFailed
		result.Error = err
		return result, nil
	}

	result.Duration = procResult.Duration
	result.StderrTail = procResult.StderrTail
	result.ExitCode = procResult.ExitCode
	result.Artifact = artifact.Path

	switch {
	case procResult.Cancelled:
		result.Status = models.StatusCancelled
		s.logger.Warn().
			Str("run_id", result.RunID).
			Str("connection", conn.Name).
			Msg("restore cancelled")
	case procResult.ExitCode != 0:
		result.Status = models.StatusFailed
		result.Error = &executor.ProcessError{
			Binary:     "pg_restore",
			ExitCode:   procResult.ExitCode,
			StderrTail: procResult.StderrTail,
		}
	default:
		result.Status = models.StatusSucceeded
		s.logger.Info().
			Str("run_id", result.RunID).
			Str("artifact", artifact.Path).
			Dur("duration", result.Duration).
			Msg("restore completed")
	}

	return result, nil
}
