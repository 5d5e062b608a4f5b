// Package facematch ranks indexed photos by how close their faces are to a
// probe face.
package facematch

import (
	"errors"
	"sort"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
)

// ErrNoFaceInProbe is returned when the probe image contains no face.
var ErrNoFaceInProbe = errors.New("no face found in probe image")

// Threshold is the exclusive distance limit for a hit.
const Threshold = constants.MatchThreshold

// Result is one photo that contains a face close to the probe.
type Result struct {
	Rank       int     `json:"rank"`
	FileName   string  `json:"fileName"`
	PublicID   string  `json:"publicId"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"` // percent, 0..100
	FaceIndex  int     `json:"faceIndex"`  // closest face within the photo
}

// Confidence maps a distance to a percentage: 100 at distance 0, falling
// linearly to 0 at the threshold and clamped there.
func Confidence(distance float64) float64 {
	c := (1 - distance/Threshold) * 100
	return max(0, min(100, c))
}

// Matcher searches a fixed set of records. It never modifies them.
type Matcher struct {
	records []database.PhotoRecord
}

func NewMatcher(records []database.PhotoRecord) *Matcher {
	return &Matcher{records: records}
}

// Len returns the number of searchable records.
func (m *Matcher) Len() int {
	return len(m.records)
}

// Match returns every record whose closest embedding is strictly nearer than
// Threshold, best first. Ties in confidence are ordered by file name.
func (m *Matcher) Match(probe []float64) []Result {
	var results []Result

	for _, rec := range m.records {
		best, bestFace := constants.MaxCosineDistance, -1
		for i, emb := range rec.Embeddings {
			if d := database.CosineDistance(probe, emb); d < best {
				best, bestFace = d, i
			}
		}
		if bestFace < 0 || best >= Threshold {
			continue
		}
		results = append(results, Result{
			FileName:   rec.FileName,
			PublicID:   rec.PublicID,
			Distance:   best,
			Confidence: Confidence(best),
			FaceIndex:  bestFace,
		})
	}

	Rank(results)
	return results
}

// Rank orders results best first, ties by file name, and numbers them from 1.
func Rank(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].FileName < results[j].FileName
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}

// MatchFace picks probe face number faceIndex out of the faces detected in
// the probe image and matches it. Zero probe faces is ErrNoFaceInProbe.
func (m *Matcher) MatchFace(probeFaces [][]float64, faceIndex int) ([]Result, error) {
	if len(probeFaces) == 0 {
		return nil, ErrNoFaceInProbe
	}
	if faceIndex < 0 || faceIndex >= len(probeFaces) {
		return nil, &FaceIndexError{Index: faceIndex, Count: len(probeFaces)}
	}
	return m.Match(probeFaces[faceIndex]), nil
}
