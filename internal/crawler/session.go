package crawler

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/mirrorkit/vimeograb/pkg/models"
)

// FolderRecord mirrors one site folder as a local directory. Members is
// filled as child videos are discovered beneath the folder.
type FolderRecord struct {
	Path      string
	SourceURL string
	Members   map[int64]struct{}
}

func NewFolderRecord(path, sourceURL string) *FolderRecord {
	return &FolderRecord{
		Path:      path,
		SourceURL: sourceURL,
		Members:   make(map[int64]struct{}),
	}
}

func (f *FolderRecord) Add(id int64) {
	f.Members[id] = struct{}{}
}

func (f *FolderRecord) Contains(id int64) bool {
	_, ok := f.Members[id]
	return ok
}

// Session is the single mutable state of one run: the deduplicated
// video registry, the folder registry, and the error tally. It has one
// writer, the sequential crawl+download flow, so it carries no locks.
type Session struct {
	RunID      string
	TargetDir  string
	VideoIDs   []int64 // discovery order, no duplicates
	Folders    []*FolderRecord
	Errors     int
	Downloaded int
	TotalBytes int64

	// CreateFolders turns true once an account or category root has
	// been processed, unless folder creation is disabled by config.
	CreateFolders bool

	seen map[int64]struct{}
}

func NewSession(targetDir string) *Session {
	if targetDir == "" {
		targetDir = "."
	}
	return &Session{
		RunID:     uuid.New().String(),
		TargetDir: targetDir,
		seen:      make(map[int64]struct{}),
	}
}

// AddVideo registers a video ID, preserving discovery order. It reports
// whether the ID was new.
func (s *Session) AddVideo(id int64) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.VideoIDs = append(s.VideoIDs, id)
	return true
}

// SortedIDs returns the registry in descending ID order, the processing
// order of the download pass (most recently created videos first).
func (s *Session) SortedIDs() []int64 {
	ids := make([]int64, len(s.VideoIDs))
	copy(ids, s.VideoIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids
}

func (s *Session) AddFolder(f *FolderRecord) {
	s.Folders = append(s.Folders, f)
}

// FoldersFor returns every folder whose member set contains id.
func (s *Session) FoldersFor(id int64) []*FolderRecord {
	var out []*FolderRecord
	for _, f := range s.Folders {
		if f.Contains(id) {
			out = append(out, f)
		}
	}
	return out
}

// Fail bumps the error tally.
func (s *Session) Fail() {
	s.Errors++
}

// EnsureDir creates (if needed) a subdirectory of the target directory
// and returns its path.
func (s *Session) EnsureDir(name string) (string, error) {
	dir := filepath.Join(s.TargetDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Snapshot captures the aggregate run state for event payloads.
func (s *Session) Snapshot() *models.Stats {
	return &models.Stats{
		TotalVideos:  len(s.VideoIDs),
		TotalFolders: len(s.Folders),
		Downloaded:   s.Downloaded,
		Errors:       s.Errors,
		TotalBytes:   s.TotalBytes,
	}
}
