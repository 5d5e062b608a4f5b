package database

import (
	"errors"
	"fmt"
)

// PhotoRecord is the index entry of one uploaded photo that shows at least
// one face. Field order and JSON names are the on-disk format.
type PhotoRecord struct {
	FileName   string      `json:"fileName"`
	PublicID   string      `json:"publicId"`
	FaceCount  int         `json:"faceCount"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ErrInvalidRecord is returned for records that break the shape rules.
var ErrInvalidRecord = errors.New("invalid photo record")

// Validate checks FaceCount == len(Embeddings) >= 1 and that every
// embedding is non-empty with a common dimension.
func (r *PhotoRecord) Validate() error {
	if r.FileName == "" {
		return fmt.Errorf("%w: empty file name", ErrInvalidRecord)
	}
	if r.PublicID == "" {
		return fmt.Errorf("%w: %s: empty public id", ErrInvalidRecord, r.FileName)
	}
	if len(r.Embeddings) == 0 {
		return fmt.Errorf("%w: %s: no embeddings", ErrInvalidRecord, r.FileName)
	}
	if r.FaceCount != len(r.Embeddings) {
		return fmt.Errorf("%w: %s: faceCount %d does not match %d embeddings", ErrInvalidRecord, r.FileName, r.FaceCount, len(r.Embeddings))
	}
	dim := len(r.Embeddings[0])
	for i, e := range r.Embeddings {
		if len(e) == 0 {
			return fmt.Errorf("%w: %s: embedding %d is empty", ErrInvalidRecord, r.FileName, i)
		}
		if len(e) != dim {
			return fmt.Errorf("%w: %s: embedding %d has dimension %d, expected %d", ErrInvalidRecord, r.FileName, i, len(e), dim)
		}
	}
	return nil
}

// Stats summarizes an index.
type Stats struct {
	Photos     int         `json:"photos"`
	Faces      int         `json:"faces"`
	Dimensions map[int]int `json:"dimensions"` // embedding dimension -> face count
	MaxFaces   int         `json:"maxFacesPerPhoto"`
}
