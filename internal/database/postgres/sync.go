package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-finder/internal/database"
)

// SyncResult reports what a Sync changed.
type SyncResult struct {
	Photos int
	Faces  int
	Pruned int64
}

// Sync writes every record to the mirror. With prune set, photos no longer
// present in records are deleted. onRecord, if not nil, is called after each
// saved record.
func (r *PhotoRepository) Sync(ctx context.Context, records []database.PhotoRecord, prune bool, onRecord func()) (*SyncResult, error) {
	result := &SyncResult{}
	names := make([]string, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := r.SavePhoto(ctx, rec); err != nil {
			return result, fmt.Errorf("sync %s: %w", rec.FileName, err)
		}
		result.Photos++
		result.Faces += rec.FaceCount
		names = append(names, rec.FileName)
		if onRecord != nil {
			onRecord()
		}
	}

	if prune {
		n, err := r.Prune(ctx, names)
		if err != nil {
			return result, err
		}
		result.Pruned = n
	}
	return result, nil
}
