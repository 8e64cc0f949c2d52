package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly through their ListResolvedBefore and
// ListProcessedBefore methods.

// MirrorArchiveStore provides read access to resolved mirrors for archival.
type MirrorArchiveStore interface {
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.MirrorRecord, error)
}

// ManagramArchiveStore provides read access to processed managrams for
// archival.
type ManagramArchiveStore interface {
	ListProcessedBefore(ctx context.Context, cutoff time.Time) ([]domain.Managram, error)
}

// Archiver implements domain.Archiver by querying the stores for aged rows,
// serializing them to JSONL, and uploading the result to object storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer    domain.BlobWriter
	mirrors   MirrorArchiveStore
	managrams ManagramArchiveStore
}

// NewArchiver creates a new Archiver.
func NewArchiver(writer domain.BlobWriter, mirrors MirrorArchiveStore, managrams ManagramArchiveStore) *Archiver {
	return &Archiver{
		writer:    writer,
		mirrors:   mirrors,
		managrams: managrams,
	}
}

// ArchiveResolvedMirrors queries mirrors resolved before the cutoff,
// serializes them to JSONL, and uploads the file at
// archive/mirrors/YYYY-MM.jsonl. It returns the number of archived rows.
func (a *Archiver) ArchiveResolvedMirrors(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := a.mirrors.ListResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive mirrors query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive mirrors marshal: %w", err)
	}

	path := archivePath("mirrors", cutoff)
	if _, err := a.writer.Write(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive mirrors upload: %w", err)
	}

	return len(records), nil
}

// ArchiveManagrams queries processed managrams created before the cutoff,
// serializes them to JSONL, and uploads the file at
// archive/managrams/YYYY-MM.jsonl. It returns the number of archived rows.
func (a *Archiver) ArchiveManagrams(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := a.managrams.ListProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive managrams query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive managrams marshal: %w", err)
	}

	path := archivePath("managrams", cutoff)
	if _, err := a.writer.Write(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive managrams upload: %w", err)
	}

	return len(records), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/mirrors/2025-01.jsonl
//	archive/managrams/2025-01.jsonl
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
