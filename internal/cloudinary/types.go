package cloudinary

// UploadResult is the subset of the upload response the pipeline uses.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	Version   int64  `json:"version"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
	SecureURL string `json:"secure_url"`
}

// Resource is a stored image as reported by the admin API.
type Resource struct {
	PublicID  string `json:"public_id"`
	Format    string `json:"format"`
	Version   int64  `json:"version"`
	Bytes     int64  `json:"bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	CreatedAt string `json:"created_at"`
	SecureURL string `json:"secure_url"`
}

type resourcesResponse struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"next_cursor"`
}

// Quota is one metered dimension of the account usage report.
type Quota struct {
	Usage       float64 `json:"usage"`
	Limit       float64 `json:"limit"`
	UsedPercent float64 `json:"used_percent"`
}

// Percent returns usage relative to the limit, 0 without a limit.
func (q Quota) Percent() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return q.Usage / q.Limit * 100
}

// Remaining returns limit minus usage, 0 without a limit.
func (q Quota) Remaining() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return q.Limit - q.Usage
}

// Usage is the account usage report.
type Usage struct {
	Plan              string `json:"plan"`
	LastUpdated       string `json:"last_updated"`
	Storage           Quota  `json:"storage"`
	Bandwidth         Quota  `json:"bandwidth"`
	Transformations   Quota  `json:"transformations"`
	Resources         int64  `json:"resources"`
	MaxImageResources int64  `json:"max_image_resources"`
}
