package cloudinary

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// StableID derives the remote public id from a file name: the base name
// without extension, NFC normalized so that names copied from macOS volumes
// (NFD) map to the same id. Surrounding spaces are kept. Different files can
// share an id (a.jpg and a.png), callers must not upload both.
func StableID(fileName string) string {
	base := filepath.Base(fileName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return norm.NFC.String(stem)
}
