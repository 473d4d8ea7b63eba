// Package dump runs pg_dump for a connection and manages the artifact
// lifecycle.
package dump

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/pgkeeper/pgkeeper/internal/services/catalog"
	"github.com/pgkeeper/pgkeeper/internal/services/executor"
	"github.com/rs/zerolog"
)

// TimestampFormat is the artifact timestamp layout: ISO-8601 ordering with
// colons replaced for filename safety.
const TimestampFormat = "2006-01-02T15-04-05"

// Service defines the interface for dump operations.
type Service interface {
	Execute(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error)
}

// Impl implements the dump Service.
type Impl struct {
	executor executor.Service
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a new dump service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: executor.New(logger),
		logger:   logger,
		now:      time.Now,
	}
}

// NewWithExecutor creates a new dump service with a custom executor (for
// testing).
func NewWithExecutor(logger zerolog.Logger, exec executor.Service) *Impl {
	return &Impl{
		executor: exec,
		logger:   logger,
		now:      time.Now,
	}
}

// ArtifactName returns the final artifact filename for a dump of the given
// connection at the given time.
func ArtifactName(conn models.ConnectionConfig, ts time.Time) string {
	return fmt.Sprintf("%s_%s%s", conn.Name, ts.Format(TimestampFormat), catalog.DumpExtension)
}

// Execute runs pg_dump in custom format. The dump is written to a temporary
// name inside the dump directory and renamed into place only on success, so
// a partial dump is never visible in the catalog. On failure or cancellation
// the temporary file is removed.
func (s *Impl) Execute(ctx context.Context, conn models.ConnectionConfig) (*models.OperationResult, error) {
	result := &models.OperationResult{RunID: uuid.NewString()}
	start := s.now()

	if err := os.MkdirAll(conn.DumpPath, 0o750); err != nil {
		result.Status = models.StatusFailed
		result.Error = fmt.Errorf("creating dump directory: %w", err)
		return result, nil
	}

	finalPath := filepath.Join(conn.DumpPath, ArtifactName(conn, start))
	tempPath := finalPath + catalog.PartialSuffix

	s.logger.Info().
		Str("run_id", result.RunID).
		Str("connection", conn.Name).
		Str("database", conn.DBName).
		Str("output", finalPath).
		Msg("starting dump")

	args := []string{
		"-h", conn.Host,
		"-p", fmt.Sprintf("%d", conn.Port),
		"-U", conn.User,
		"-d", conn.DBName,
		"--format=custom",
		"-f", tempPath,
	}

	var env []string
	if conn.Password != "" {
		env = append(env, fmt.Sprintf("PGPASSWORD=%s", conn.Password))
	}

	procResult, err := s.executor.Run(ctx, executor.Command{
		Name: "pg_dump",
		Args: args,
		Env:  env,
	})
	if err != nil {
		_ = os.Remove(tempPath)
		result.Status = models.StatusFailed
		result.Error = err
		result.Duration = time.Since(start)
		return result, nil
	}

	result.Duration = procResult.Duration
	result.StderrTail = procResult.StderrTail
	result.ExitCode = procResult.ExitCode

	if procResult.Cancelled {
		_ = os.Remove(tempPath)
		result.Status = models.StatusCancelled
		s.logger.Warn().
			Str("run_id", result.RunID).
			Str("connection", conn.Name).
			Msg("dump cancelled, partial file removed")
		return result, nil
	}

	if procResult.ExitCode != 0 {
		_ = os.Remove(tempPath)
		result.Status = models.StatusFailed
		result.Error = &executor.ProcessError{
			Binary:     "pg_dump",
			ExitCode:   procResult.ExitCode,
			StderrTail: procResult.StderrTail,
		}
		return result, nil
	}

	// Atomic rename: "visible in the catalog" and "fully written" stay
	// equivalent.
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		result.Status = models.StatusFailed
		result.Error = fmt.Errorf("finalizing dump artifact: %w", err)
		return result, nil
	}

	result.Status = models.StatusSucceeded
	result.Artifact = finalPath
	if info, err := os.Stat(finalPath); err == nil {
		result.SizeBytes = info.Size()
	}

	s.logger.Info().
		Str("run_id", result.RunID).
		Str("artifact", finalPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("dump completed")

	return result, nil
}
