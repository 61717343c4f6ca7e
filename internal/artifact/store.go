// Package artifact persists generated media through the simple-content
// service, keyed by job and segment identifiers.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// Artifact kinds recorded in content metadata.
const (
	KindVisual   = "segment-visual"
	KindAudio    = "segment-audio"
	KindCombined = "segment-combined"
	KindFinal    = "final-video"
	KindPoster   = "poster"
)

// Store wraps the simple-content domain service with the configured default
// storage backend. One content record is created per artifact; superseded
// artifacts are deleted when a segment is reprocessed.
type Store struct {
	svc      simplecontent.Service
	backend  string
	ownerID  uuid.UUID
	tenantID uuid.UUID
}

// NewStore wraps a simple-content service.
func NewStore(svc simplecontent.Service, defaultBackend string, ownerID, tenantID uuid.UUID) *Store {
	return &Store{svc: svc, backend: defaultBackend, ownerID: ownerID, tenantID: tenantID}
}

// Save uploads the file at srcPath as one artifact and returns its content
// id. The local file is left in place; scratch cleanup belongs to the
// caller.
func (s *Store) Save(ctx context.Context, jobID, segmentID, kind, srcPath string) (string, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}
	file, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	content, err := s.svc.UploadContent(ctx, simplecontent.UploadContentRequest{
		OwnerID:            s.ownerID,
		TenantID:           s.tenantID,
		StorageBackendName: s.backend,
		Reader:             file,
		FileName:           filepath.Base(srcPath),
		FileSize:           info.Size(),
		Tags:               []string{kind},
		CustomMetadata: map[string]interface{}{
			"job_id":     jobID,
			"segment_id": segmentID,
			"kind":       kind,
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s artifact: %w", kind, err)
	}
	return content.ID.String(), nil
}

// Open streams an artifact's bytes.
func (s *Store) Open(ctx context.Context, artifactID string) (io.ReadCloser, error) {
	id, err := uuid.Parse(artifactID)
	if err != nil {
		return nil, fmt.Errorf("parse artifact id %q: %w", artifactID, err)
	}
	reader, err := s.svc.DownloadContent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download artifact %s: %w", artifactID, err)
	}
	return reader, nil
}

// Fetch downloads an artifact into a temporary file and returns its path
// with a cleanup func.
func (s *Store) Fetch(ctx context.Context, artifactID string) (string, func() error, error) {
	reader, err := s.Open(ctx, artifactID)
	if err != nil {
		return "", nil, err
	}
	defer reader.Close()

	temp, err := os.CreateTemp("", "artifact-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(temp, reader); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", nil, fmt.Errorf("copy artifact to disk: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	cleanup := func() error { return os.Remove(temp.Name()) }
	return temp.Name(), cleanup, nil
}

// Delete removes a superseded artifact. Unknown ids are reported as errors;
// callers treat deletion as best-effort.
func (s *Store) Delete(ctx context.Context, artifactID string) error {
	id, err := uuid.Parse(artifactID)
	if err != nil {
		return fmt.Errorf("parse artifact id %q: %w", artifactID, err)
	}
	if err := s.svc.DeleteContent(ctx, id); err != nil {
		return fmt.Errorf("delete artifact %s: %w", artifactID, err)
	}
	return nil
}
