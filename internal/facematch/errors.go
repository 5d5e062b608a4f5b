package facematch

import "fmt"

// FaceIndexError reports a probe face selection outside the detected faces.
type FaceIndexError struct {
	Index int
	Count int
}

func (e *FaceIndexError) Error() string {
	return fmt.Sprintf("face %d requested but the probe image has %d face(s)", e.Index, e.Count)
}
