package crawler

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/renderer"
)

type fakeElement struct {
	text    string
	attrs   map[string]string
	onClick func()
}

func (e *fakeElement) Text() (string, error)          { return e.text, nil }
func (e *fakeElement) Attr(name string) (string, error) { return e.attrs[name], nil }
func (e *fakeElement) SendKeys(string) error          { return nil }
func (e *fakeElement) Selected() (bool, error)        { return e.attrs["selected"] != "", nil }

func (e *fakeElement) Click() error {
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

// fakePage scripts one rendered page: its listing anchors, the elements
// Find can resolve, and the page the next-page control leads to.
type fakePage struct {
	anchors []*fakeElement
	finders map[string]*fakeElement
	next    string
}

type fakeRenderer struct {
	pages   map[string]*fakePage
	current string
	visited []string
	failNav map[string]bool
}

func (r *fakeRenderer) Navigate(url string) error {
	if r.failNav[url] {
		// The previous page stays displayed, as a real browser would.
		return errors.New("net::ERR_CONNECTION_RESET")
	}
	r.current = url
	r.visited = append(r.visited, url)
	return nil
}

func (r *fakeRenderer) Find(selector string) (renderer.Element, error) {
	p := r.pages[r.current]
	if p == nil {
		return nil, renderer.ErrElementNotFound
	}
	if selector == nextPageSelector {
		if p.next == "" {
			return nil, renderer.ErrElementNotFound
		}
		next := p.next
		return &fakeElement{onClick: func() { r.current = next }}, nil
	}
	if el, ok := p.finders[selector]; ok {
		return el, nil
	}
	return nil, renderer.ErrElementNotFound
}

func (r *fakeRenderer) FindAll(selector string) ([]renderer.Element, error) {
	p := r.pages[r.current]
	if p == nil || selector != listingLinkSelector {
		return nil, nil
	}
	els := make([]renderer.Element, 0, len(p.anchors))
	for _, a := range p.anchors {
		els = append(els, a)
	}
	return els, nil
}

func (r *fakeRenderer) CurrentURL() (string, error) { return r.current, nil }

func (r *fakeRenderer) Evaluate(expr string, out interface{}) error {
	if s, ok := out.(*string); ok {
		*s = "test-agent"
	}
	return nil
}

func (r *fakeRenderer) Cookies() ([]renderer.Cookie, error) {
	return []renderer.Cookie{{Name: "vuid", Value: "abc"}}, nil
}

func (r *fakeRenderer) Close() error { return nil }

func anchorsTo(urls ...string) []*fakeElement {
	els := make([]*fakeElement, 0, len(urls))
	for _, u := range urls {
		els = append(els, &fakeElement{attrs: map[string]string{"href": u}})
	}
	return els
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestWalker(t *testing.T, pages map[string]*fakePage, cfg *config.CrawlerConfig) (*Walker, *Session, *fakeRenderer) {
	t.Helper()
	sess := NewSession(t.TempDir())
	page := &fakeRenderer{pages: pages}
	w := NewWalker(cfg, testLogger(), page, messaging.NewNoopClient(), sess)
	return w, sess, page
}

func TestWalkerAccount(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/123", "https://vimeo.com/456"),
			next:    "https://vimeo.com/someacct/videos/page:2",
		},
		"https://vimeo.com/someacct/videos/page:2": {
			anchors: anchorsTo("https://vimeo.com/789"),
		},
		"https://vimeo.com/someacct/channels": {
			anchors: anchorsTo("https://vimeo.com/channels/cookery"),
		},
		"https://vimeo.com/channels/cookery/videos": {
			anchors: anchorsTo("https://vimeo.com/456", "https://vimeo.com/999"),
			finders: map[string]*fakeElement{
				"#page_header h1 a": {text: "Cookery Shows"},
			},
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1, CreateFolders: true}
	w, sess, _ := newTestWalker(t, pages, cfg)

	start, err := Parse("https://vimeo.com/someacct")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	// Discovery order with the duplicate 456 collapsed.
	assert.Equal(t, []int64{123, 456, 789, 999}, sess.VideoIDs)
	assert.Equal(t, []int64{999, 789, 456, 123}, sess.SortedIDs())
	assert.Equal(t, 0, sess.Errors)

	// Folder directory with its provenance shortcut.
	require.Len(t, sess.Folders, 1)
	folder := sess.Folders[0]
	assert.Equal(t, filepath.Join(sess.TargetDir, "Cookery Shows"), folder.Path)
	content, err := os.ReadFile(filepath.Join(folder.Path, ShortcutFileName))
	require.NoError(t, err)
	assert.Equal(t, "[InternetShortcut]\nURL=https://vimeo.com/channels/cookery\n", string(content))

	// Folder membership is a subset of the registry.
	assert.True(t, folder.Contains(456))
	assert.True(t, folder.Contains(999))
	assert.False(t, folder.Contains(123))
	for id := range folder.Members {
		assert.Contains(t, sess.VideoIDs, id)
	}
	assert.Len(t, sess.FoldersFor(456), 1)
	assert.Empty(t, sess.FoldersFor(123))

	// Start shortcut in the target root.
	content, err = os.ReadFile(filepath.Join(sess.TargetDir, ShortcutFileName))
	require.NoError(t, err)
	assert.Equal(t, "[InternetShortcut]\nURL=https://vimeo.com/someacct\n", string(content))
}

func TestWalkerDuplicateOnPage(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/123", "https://vimeo.com/123"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1}
	w, _, _ := newTestWalker(t, pages, cfg)

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)

	err = w.Run(start)
	var cerr *ConsistencyError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "https://vimeo.com/123", cerr.Item)
}

func TestWalkerDuplicateAcrossPages(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/123"),
			next:    "https://vimeo.com/someacct/videos/page:2",
		},
		"https://vimeo.com/someacct/videos/page:2": {
			anchors: anchorsTo("https://vimeo.com/123"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1}
	w, _, _ := newTestWalker(t, pages, cfg)

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)

	var cerr *ConsistencyError
	require.ErrorAs(t, w.Run(start), &cerr)
}

func TestWalkerFolderTitleFallback(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/groups/videography/videos": {
			anchors: anchorsTo("https://vimeo.com/123"),
			finders: map[string]*fakeElement{
				"#group_header h1 a": {attrs: map[string]string{"title": "Videography"}},
			},
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1, CreateFolders: true}
	w, sess, _ := newTestWalker(t, pages, cfg)
	sess.CreateFolders = true

	start, err := Parse("https://vimeo.com/groups/videography")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	require.Len(t, sess.Folders, 1)
	assert.Equal(t, filepath.Join(sess.TargetDir, "Videography"), sess.Folders[0].Path)
	assert.True(t, sess.Folders[0].Contains(123))
}

func TestWalkerFolderTitleMissing(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/groups/videography/videos": {
			anchors: anchorsTo("https://vimeo.com/123"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1, CreateFolders: true}
	w, sess, _ := newTestWalker(t, pages, cfg)
	sess.CreateFolders = true

	start, err := Parse("https://vimeo.com/groups/videography")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	// The folder is abandoned after the retry budget; nothing beneath it
	// is collected.
	assert.Equal(t, 1, sess.Errors)
	assert.Empty(t, sess.Folders)
	assert.Empty(t, sess.VideoIDs)
}

func TestWalkerMaxItems(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/123", "https://vimeo.com/456", "https://vimeo.com/789"),
			next:    "https://vimeo.com/someacct/videos/page:2",
		},
		"https://vimeo.com/someacct/videos/page:2": {
			anchors: anchorsTo("https://vimeo.com/111"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1, MaxItems: 1}
	w, sess, _ := newTestWalker(t, pages, cfg)

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	assert.Equal(t, []int64{123}, sess.VideoIDs)
}

func TestWalkerNavigationFailureYieldsNothing(t *testing.T) {
	// The renderer is left sitting on a listing page full of video links;
	// a branch whose navigation fails must not scrape that stale page.
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/123", "https://vimeo.com/456"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1}
	w, sess, page := newTestWalker(t, pages, cfg)
	page.current = "https://vimeo.com/someacct/videos"
	page.failNav = map[string]bool{"https://vimeo.com/foo/bar": true}

	start, err := Parse("https://vimeo.com/foo/bar")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	assert.Empty(t, sess.VideoIDs)
	assert.Equal(t, 1, sess.Errors)
}

func TestWalkerNavigationFailureOnListedLink(t *testing.T) {
	// A listing that links to an unreachable page: the dead branch is
	// abandoned instead of re-scraping the listing it was found on, which
	// would otherwise recurse forever.
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo(
				"https://vimeo.com/123",
				"https://vimeo.com/456",
				"https://vimeo.com/foo/bar",
			),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1}
	w, sess, page := newTestWalker(t, pages, cfg)
	page.failNav = map[string]bool{"https://vimeo.com/foo/bar": true}

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	assert.Equal(t, []int64{123, 456}, sess.VideoIDs)
	assert.Equal(t, 1, sess.Errors)
}

func TestWalkerNavigationFailureOnFolder(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo("https://vimeo.com/channels/cookery"),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1, CreateFolders: true}
	w, sess, page := newTestWalker(t, pages, cfg)
	sess.CreateFolders = true
	page.failNav = map[string]bool{"https://vimeo.com/channels/cookery/videos": true}

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	// One error after the retry budget, nothing collected beneath the
	// unreachable folder.
	assert.Equal(t, 1, sess.Errors)
	assert.Empty(t, sess.Folders)
	assert.Empty(t, sess.VideoIDs)
}

func TestWalkerSkipsSettingsAndForeignLinks(t *testing.T) {
	pages := map[string]*fakePage{
		"https://vimeo.com/someacct/videos": {
			anchors: anchorsTo(
				"https://vimeo.com/123",
				"https://example.com/456",
				"https://vimeo.com/someacct/settings",
			),
		},
	}
	cfg := &config.CrawlerConfig{Retries: 1}
	w, sess, _ := newTestWalker(t, pages, cfg)

	start, err := Parse("https://vimeo.com/someacct/videos")
	require.NoError(t, err)
	require.NoError(t, w.Run(start))

	assert.Equal(t, []int64{123}, sess.VideoIDs)
	assert.Equal(t, 0, sess.Errors)
}
