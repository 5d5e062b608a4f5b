package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-finder/internal/database"
)

// PhotoRepository stores photo records and their face vectors.
type PhotoRepository struct {
	pool *Pool
}

func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// Nearest is a photo whose closest face is within the queried distance.
type Nearest struct {
	FileName string
	PublicID string
	Distance float64
}

func toVector(embedding []float64) pgvector.Vector {
	v := make([]float32, len(embedding))
	for i, x := range embedding {
		v[i] = float32(x)
	}
	return pgvector.NewVector(v)
}

// SavePhoto inserts or replaces a photo and all its faces in one transaction.
func (r *PhotoRepository) SavePhoto(ctx context.Context, rec database.PhotoRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := upsertPhoto(ctx, tx, rec); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM faces WHERE file_name = $1", rec.FileName); err != nil {
		return fmt.Errorf("delete faces for %s: %w", rec.FileName, err)
	}

	for i, embedding := range rec.Embeddings {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO faces (file_name, face_index, dim, embedding)
			VALUES ($1, $2, $3, $4::vector)
		`, rec.FileName, i, len(embedding), toVector(embedding))
		if err != nil {
			return fmt.Errorf("insert face %d for %s: %w", i, rec.FileName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertPhoto(ctx context.Context, tx *sql.Tx, rec database.PhotoRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO photos (file_name, public_id, face_count, synced_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (file_name) DO UPDATE
		SET public_id = EXCLUDED.public_id, face_count = EXCLUDED.face_count, synced_at = NOW()
	`, rec.FileName, rec.PublicID, rec.FaceCount)
	if err != nil {
		return fmt.Errorf("upsert photo %s: %w", rec.FileName, err)
	}
	return nil
}

// Prune deletes photos whose file name is not in keep and returns how many
// rows were removed.
func (r *PhotoRepository) Prune(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	res, err := r.pool.db.ExecContext(ctx, "DELETE FROM photos WHERE NOT (file_name = ANY($1))", pq.Array(keep))
	if err != nil {
		return 0, fmt.Errorf("prune photos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune photos: %w", err)
	}
	return n, nil
}

// CountPhotos returns the number of mirrored photos
func (r *PhotoRepository) CountPhotos(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos").Scan(&n); err != nil {
		return 0, fmt.Errorf("count photos: %w", err)
	}
	return n, nil
}

// CountFaces returns the number of mirrored face vectors
func (r *PhotoRepository) CountFaces(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM faces").Scan(&n); err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return n, nil
}

// FindWithin returns photos whose closest face is strictly closer than
// maxDistance to the probe, nearest first. Only faces with the probe's
// dimension are compared.
func (r *PhotoRepository) FindWithin(ctx context.Context, probe []float64, maxDistance float64) ([]Nearest, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT p.file_name, p.public_id, MIN(f.embedding <=> $1::vector) AS distance
		FROM faces f
		JOIN photos p ON p.file_name = f.file_name
		WHERE f.dim = $2
		GROUP BY p.file_name, p.public_id
		HAVING MIN(f.embedding <=> $1::vector) < $3
		ORDER BY distance, p.file_name
	`, toVector(probe), len(probe), maxDistance)
	if err != nil {
		return nil, fmt.Errorf("query nearest photos: %w", err)
	}
	defer rows.Close()

	var out []Nearest
	for rows.Next() {
		var n Nearest
		if err := rows.Scan(&n.FileName, &n.PublicID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest photo: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest photos: %w", err)
	}
	return out, nil
}
