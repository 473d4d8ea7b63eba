// Package catalog discovers dump artifacts under a connection's dump
// directory. It is a transient view over the filesystem, recomputed on every
// call; destructive actions re-resolve artifacts immediately before use.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pgkeeper/pgkeeper/internal/models"
	"github.com/rs/zerolog"
)

const (
	// DumpExtension marks completed dump artifacts. Exact, case-sensitive.
	DumpExtension = ".dump"
	// PartialSuffix marks a dump still being written. Appended after the
	// full final name, so a crashed run is identifiable by which artifact
	// it was producing.
	PartialSuffix = ".partial"
)

// ErrDumpNotFound is returned when an artifact no longer exists at
// resolution time.
var ErrDumpNotFound = errors.New("dump artifact not found")

// Service defines the interface for dump artifact discovery.
type Service interface {
	List(conn models.ConnectionConfig) ([]models.DumpArtifact, error)
	Resolve(conn models.ConnectionConfig, name string) (*models.DumpArtifact, error)
}

// Impl implements the catalog Service.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new catalog service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// List scans the connection's dump directory non-recursively and returns the
// completed artifacts, newest first, ties broken by name descending. A dump
// directory that does not exist yet yields an empty list.
func (s *Impl) List(conn models.ConnectionConfig) ([]models.DumpArtifact, error) {
	entries, err := os.ReadDir(conn.DumpPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading dump directory %s: %w", conn.DumpPath, err)
	}

	var artifacts []models.DumpArtifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, DumpExtension) || strings.HasSuffix(name, PartialSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Deleted between ReadDir and Info; treat as absent.
			continue
		}
		artifacts = append(artifacts, models.DumpArtifact{
			Name:      name,
			Path:      filepath.Join(conn.DumpPath, name),
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if !artifacts[i].CreatedAt.Equal(artifacts[j].CreatedAt) {
			return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
		}
		return artifacts[i].Name > artifacts[j].Name
	})

	s.logger.Debug().
		Str("connection", conn.Name).
		Int("count", len(artifacts)).
		Msg("dump directory scanned")

	return artifacts, nil
}

// Resolve checks that the named artifact still exists and is readable, and
// returns its current metadata. Called again immediately before every
// restore so a stale listing cannot select a vanished file.
func (s *Impl) Resolve(conn models.ConnectionConfig, name string) (*models.DumpArtifact, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("%w: invalid artifact name %q", ErrDumpNotFound, name)
	}
	if !strings.HasSuffix(name, DumpExtension) || strings.HasSuffix(name, PartialSuffix) {
		return nil, fmt.Errorf("%w: %q is not a dump artifact", ErrDumpNotFound, name)
	}

	path := filepath.Join(conn.DumpPath, name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDumpNotFound, path)
		}
		return nil, fmt.Errorf("resolving dump artifact %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDumpNotFound, path)
	}

	// Readability check: the restore process will need to open it.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dump artifact %s is not readable: %w", path, err)
	}
	_ = f.Close()

	return &models.DumpArtifact{
		Name:      name,
		Path:      path,
		CreatedAt: info.ModTime(),
		SizeBytes: info.Size(),
	}, nil
}
