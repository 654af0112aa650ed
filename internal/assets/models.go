package assets

import "time"

// Status represents an asset's lifecycle. An asset is created in processing
// when its upload completes, becomes ready when transcoding publishes its
// artifacts, and failed when the pipeline gives up.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Asset is one row of the asset catalog. Key is the opaque identifier that
// names the asset in URLs and artifact directories.
type Asset struct {
	Key             string
	FileName        string
	ProjectID       string
	MediaType       string
	OwnerID         string
	Status          Status
	FileURL         string
	ThumbnailURL    string
	PreviewURL      string
	PlaylistURL     string
	DurationSeconds int
	Resolution      string
	RenditionsJSON  string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Artifacts carries the published output locations recorded when an asset
// becomes ready.
type Artifacts struct {
	ThumbnailURL   string
	PreviewURL     string
	PlaylistURL    string
	RenditionsJSON string
}
