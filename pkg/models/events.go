package models

// Event status values used by both the crawler and the downloader.
const (
	StatusSuccess = "success"
	StatusRetry   = "retry"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Stats represents the aggregate state of a run.
type Stats struct {
	TotalVideos  int   `json:"total_videos"`
	TotalFolders int   `json:"total_folders"`
	Downloaded   int   `json:"downloaded"`
	Errors       int   `json:"errors"`
	TotalBytes   int64 `json:"total_bytes"`
}

// CrawlLog is published for every listing page the walker processes.
type CrawlLog struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	URL    string `json:"url"`
	Videos int    `json:"videos"`
	Others int    `json:"others"`
	Error  string `json:"error,omitempty"`
	Stats  *Stats `json:"stats,omitempty"`
}

// VideoLog is published for every processed video.
type VideoLog struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	VideoID int64  `json:"video_id"`
	Title   string `json:"title"`
	Variant string `json:"variant,omitempty"`
	Number  int    `json:"number"`
	Total   int    `json:"total"`
	Bytes   int64  `json:"bytes,omitempty"`
	Error   string `json:"error,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`
}
