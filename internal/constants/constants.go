// Package constants provides shared constants used across the codebase.
package constants

import "time"

// Face matching constants
const (
	// MatchThreshold is the maximum cosine distance (exclusive) for a photo to
	// count as containing the probe face
	MatchThreshold = 0.6

	// MaxCosineDistance is reported for vectors that cannot be compared
	// (zero length, zero norm or mismatched dimensions)
	MaxCosineDistance = 2.0
)

// Processing constants
const (
	// WorkerPoolSize is the default number of parallel ingestion workers
	WorkerPoolSize = 5

	// MaxImageSize is the maximum dimension (width or height) of uploaded images
	MaxImageSize = 2400

	// JPEGQuality is the quality used when re-encoding uploads
	JPEGQuality = 85

	// MaxDecodePixels bounds width*height of a photo before it is decoded
	// (about 120 MP, 480 MB as RGBA)
	MaxDecodePixels = 120_000_000
)

// Upload retry constants
const (
	// UploadMaxAttempts is the total number of upload attempts per candidate
	UploadMaxAttempts = 3

	// UploadRetryDelay is the fixed wait between upload attempts
	UploadRetryDelay = 2 * time.Second
)

// Remote storage constants
const (
	// DefaultFolder is the remote folder photos are uploaded into
	DefaultFolder = "wedding_photos"

	// ListPageSize is the max number of resources requested per listing page
	ListPageSize = 500

	// ThumbnailTransformation is the delivery transformation used in listings
	ThumbnailTransformation = "w_400,h_400,c_fill,q_auto,f_auto"
)

// Storage usage thresholds (percent of plan limit)
const (
	UsageCriticalPercent = 90.0
	UsageWarningPercent  = 75.0
)

// File locations
const (
	DefaultIndexPath  = "face_index.json"
	DefaultLedgerPath = "uploaded_files.txt"
)

// ImageExtensions lists the accepted photo extensions (lowercase, with dot).
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}
