package crawler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Domain is the only site this crawler understands; the link grammar
// below is specific to it.
const Domain = "vimeo.com"

// ShortcutFileName is the provenance file written into account and
// folder directories.
const ShortcutFileName = "source.url"

// ErrInvalidLink is returned by Parse for links outside the site domain.
var ErrInvalidLink = errors.New("invalid link")

// Kind discriminates what a link points at.
type Kind int

const (
	KindSystem Kind = iota
	KindVideo
	KindAccount
	KindCategory
	KindVideos
	KindFolder
	KindGeneric
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindVideo:
		return "video"
	case KindAccount:
		return "account"
	case KindCategory:
		return "category"
	case KindVideos:
		return "videos"
	case KindFolder:
		return "folder"
	default:
		return "generic"
	}
}

// Known single-segment site pages that carry no user content.
var systemPages = map[string]bool{
	"about": true, "blog": true, "categories": true, "channels": true,
	"cookie_policy": true, "couchmode": true, "creativecommons": true,
	"creatorservices": true, "dmca": true, "enhancer": true,
	"everywhere": true, "explore": true, "groups": true, "help": true,
	"jobs": true, "join": true, "log_in": true, "love": true,
	"musicstore": true, "ondemand": true, "plus": true, "privacy": true,
	"pro": true, "robots.txt": true, "search": true, "site_map": true,
	"staffpicks": true, "terms": true, "upload": true, "videoschool": true,
}

// Second segment of account category listings.
var categoryNames = map[string]bool{
	"albums": true, "groups": true, "channels": true,
}

// First segment of folder pages.
var folderKinds = map[string]bool{
	"album": true, "groups": true, "channels": true,
}

// Link is one classified navigation target. Exactly one Kind holds and
// only the fields for that kind are populated. URL keeps the original
// case; classification runs on a lower-cased copy.
type Link struct {
	Raw        string
	URL        string
	Kind       Kind
	VideoID    int64
	Account    string
	Category   string
	FolderKind string
	Name       string
}

// PageURL builds an absolute site URL from a path fragment or video ID.
func PageURL(path string) string {
	return fmt.Sprintf("https://%s/%s", Domain, path)
}

// VideoURL builds the page URL of a video.
func VideoURL(id int64) string {
	return PageURL(strconv.FormatInt(id, 10))
}

// Parse normalizes and classifies a raw link. Input may be an absolute
// URL or a bare numeric video ID.
func Parse(raw string) (*Link, error) {
	u := strings.TrimSpace(raw)
	if !strings.Contains(u, "/") {
		u = PageURL(u)
	}
	u = strings.Trim(u, "/")
	// Collapse duplicate slashes after the scheme.
	if i := strings.Index(u, "/"); i >= 0 {
		u = u[:i+1] + strings.ReplaceAll(u[i+1:], "//", "/")
	}

	lower := strings.ToLower(u)
	di := strings.Index(lower, Domain)
	if di < 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLink, raw)
	}

	var tokens []string
	if rest := lower[di+len(Domain):]; strings.HasPrefix(rest, "/") {
		tokens = strings.Split(rest[1:], "/")
	}

	// Share URLs embed the numeric video ID as the trailing segment;
	// collapse them to the bare video link.
	if (len(tokens) == 3 || len(tokens) == 4) && isDigits(tokens[len(tokens)-1]) {
		last := tokens[len(tokens)-1]
		u = PageURL(last)
		tokens = []string{last}
	}
	if len(tokens) == 3 && tokens[2] == "videos" {
		tokens = tokens[:2]
	}

	l := &Link{Raw: raw, URL: u}
	switch {
	case len(tokens) == 0 || tokens[0] == "":
		l.Kind = KindSystem
	case systemPages[tokens[0]] && (len(tokens) == 1 || !folderKinds[tokens[0]]):
		l.Kind = KindSystem
	case len(tokens) == 1 && isDigits(tokens[0]):
		l.Kind = KindVideo
		l.VideoID, _ = strconv.ParseInt(tokens[0], 10, 64)
	case len(tokens) == 1:
		l.Kind = KindAccount
		l.Account = tokens[0]
		l.Name = tokens[0]
	case len(tokens) == 2 && categoryNames[tokens[1]]:
		l.Kind = KindCategory
		l.Account = tokens[0]
		l.Category = tokens[1]
		l.Name = tokens[1]
	case len(tokens) == 2 && tokens[1] == "videos":
		l.Kind = KindVideos
		l.Account = tokens[0]
		l.Category = tokens[1]
		l.Name = tokens[1]
	case len(tokens) == 2 && folderKinds[tokens[0]]:
		l.Kind = KindFolder
		l.FolderKind = tokens[0]
		l.Name = tokens[1]
	default:
		l.Kind = KindGeneric
	}

	// Non-album folders paginate under a videos sub-path.
	if l.Kind == KindFolder && l.FolderKind != "album" && !strings.HasSuffix(l.URL, "videos") {
		l.URL += "/videos"
	}

	return l, nil
}

func (l *Link) String() string {
	return l.URL
}

// WriteShortcut drops the provenance file for this link into dir. Any
// "/videos" suffix is stripped so the shortcut points at the folder
// itself.
func (l *Link) WriteShortcut(dir string) error {
	content := fmt.Sprintf("[InternetShortcut]\nURL=%s\n", strings.SplitN(l.URL, "/videos", 2)[0])
	return os.WriteFile(filepath.Join(dir, ShortcutFileName), []byte(content), 0o644)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Characters that cannot appear in file names, replaced with '_'.
const invalidFileNameChars = `<>:"/\|?*'`

// SanitizeFileName makes a title safe for the filesystem: invalid
// characters become underscores, trailing whitespace and dots go away.
func SanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(invalidFileNameChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " .")
}
