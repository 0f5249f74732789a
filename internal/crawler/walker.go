package crawler

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/renderer"
	"github.com/mirrorkit/vimeograb/pkg/models"
)

// CrawlLogRoutingKey is where the walker publishes per-page events.
const CrawlLogRoutingKey = "crawl.log"

const (
	listingLinkSelector = "#browse_content .browse a"
	nextPageSelector    = ".pagination a[rel=next]"
)

// Ordered title lookup strategies for folder pages. Each one that finds
// nothing is skipped until the chain is exhausted.
var folderTitleChain = []struct {
	selector string
	attr     string // empty means text content
}{
	{"#page_header h1 a", ""},
	{"#page_header h1", ""},
	{"#group_header h1 a", "title"},
	{"#group_header h1 a", ""},
}

// ConsistencyError reports duplicate items on a page where uniqueness is
// assumed. It aborts the walk and is handled once at the top level.
type ConsistencyError struct {
	Page string
	Item string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("duplicate item %s extracted from %s", e.Item, e.Page)
}

// Walker expands a start link into the session's full video and folder
// registry, driving the shared rendering session page by page.
type Walker struct {
	cfg  *config.CrawlerConfig
	log  *logrus.Logger
	page renderer.Renderer
	msg  messaging.Client
	sess *Session
}

func NewWalker(cfg *config.CrawlerConfig, log *logrus.Logger, page renderer.Renderer,
	msg messaging.Client, sess *Session) *Walker {
	return &Walker{
		cfg:  cfg,
		log:  log,
		page: page,
		msg:  msg,
		sess: sess,
	}
}

// Run walks the site graph from start. The only error it returns is a
// *ConsistencyError; navigation failures are counted on the session and
// the walk continues elsewhere.
func (w *Walker) Run(start *Link) error {
	if err := start.WriteShortcut(w.sess.TargetDir); err != nil {
		w.log.WithError(err).Warn("Failed to write start shortcut")
	}
	return w.walk(start, nil)
}

// walk dispatches on the link kind and recurses into the children each
// branch produces. target is the member set of the enclosing folder, or
// nil outside any folder.
func (w *Walker) walk(l *Link, target *FolderRecord) error {
	var items []*Link

	switch l.Kind {
	case KindVideo:
		w.sess.AddVideo(l.VideoID)
		if target != nil {
			target.Add(l.VideoID)
		}
		return nil

	case KindAccount:
		if err := w.goTo(l.URL + "/videos"); err != nil {
			w.sess.Fail()
			return nil
		}
		w.log.WithField("account", l.Account).Info("Processing account")
		its, err := w.listingItems()
		if err != nil {
			return err
		}
		for _, extra := range []string{l.URL + "/channels", l.URL + "/albums"} {
			child, perr := Parse(extra)
			if perr != nil {
				continue
			}
			its = append(its, child)
		}
		w.sess.CreateFolders = w.cfg.CreateFolders
		items = its

	case KindVideos:
		if err := w.goTo(l.URL); err != nil {
			w.sess.Fail()
			return nil
		}
		its, err := w.listingItems()
		if err != nil {
			return err
		}
		items = its

	case KindCategory:
		if err := w.goTo(l.URL); err != nil {
			w.sess.Fail()
			return nil
		}
		its, err := w.listingItems()
		if err != nil {
			return err
		}
		w.sess.CreateFolders = w.cfg.CreateFolders
		items = its

	case KindFolder:
		its, rec, err := w.enterFolder(l)
		if err != nil {
			return err
		}
		if rec != nil {
			target = rec
		}
		items = its

	case KindGeneric:
		if err := w.goTo(l.URL); err != nil {
			w.sess.Fail()
			return nil
		}
		its, err := w.pageItems()
		if err != nil {
			return err
		}
		items = its

	case KindSystem:
		return nil
	}

	for _, item := range items {
		if err := w.walk(item, target); err != nil {
			return err
		}
	}
	return nil
}

// enterFolder loads a folder page, resolves its display title with the
// fallback chain, materializes the local directory, and collects the
// folder's items. A nil record means folder creation was off or failed.
func (w *Walker) enterFolder(l *Link) ([]*Link, *FolderRecord, error) {
	for i := 0; i <= w.cfg.Retries; i++ {
		if err := w.goTo(l.URL); err != nil {
			if i >= w.cfg.Retries {
				w.sess.Fail()
			}
			continue
		}
		title, err := w.folderTitle()
		if err != nil {
			w.log.WithField("url", l.URL).Warn("Folder title not found")
			if i >= w.cfg.Retries {
				w.log.WithField("url", l.URL).Error("Page load failed")
				w.sess.Fail()
			}
			continue
		}

		w.log.WithField("folder", title).Info("Folder")
		var rec *FolderRecord
		if w.sess.CreateFolders {
			dir, derr := w.sess.EnsureDir(SanitizeFileName(strings.TrimSpace(title)))
			if derr != nil {
				w.log.WithError(derr).Error("Failed to create folder directory")
				w.sess.Fail()
			} else {
				if serr := l.WriteShortcut(dir); serr != nil {
					w.log.WithError(serr).Warn("Failed to write folder shortcut")
				}
				rec = NewFolderRecord(dir, l.URL)
				w.sess.AddFolder(rec)
			}
		}

		items, err := w.listingItems()
		if err != nil {
			return nil, nil, err
		}
		return items, rec, nil
	}
	return nil, nil, nil
}

// folderTitle runs the ordered lookup chain on the current page.
func (w *Walker) folderTitle() (string, error) {
	for _, strategy := range folderTitleChain {
		el, err := w.page.Find(strategy.selector)
		if renderer.IsNotFound(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		var title string
		if strategy.attr != "" {
			title, err = el.Attr(strategy.attr)
		} else {
			title, err = el.Text()
		}
		if err != nil || strings.TrimSpace(title) == "" {
			continue
		}
		return title, nil
	}
	return "", renderer.ErrElementNotFound
}

// listingItems runs the paginated-listing protocol: accumulate pages
// until the next-page control disappears, or until the configured page
// bound is hit.
func (w *Walker) listingItems() ([]*Link, error) {
	var items []*Link
	seen := make(map[string]bool)
	for page := 0; ; page++ {
		pageItems, err := w.pageItems()
		if err != nil {
			return nil, err
		}
		for _, item := range pageItems {
			if seen[item.URL] {
				cur, _ := w.page.CurrentURL()
				return nil, &ConsistencyError{Page: cur, Item: item.URL}
			}
			seen[item.URL] = true
			items = append(items, item)
		}

		if w.cfg.MaxItems > 0 && page+1 >= w.cfg.MaxItems {
			break
		}
		next, err := w.page.Find(nextPageSelector)
		if renderer.IsNotFound(err) {
			break
		}
		if err != nil {
			w.log.WithError(err).Error("Pagination lookup failed")
			w.sess.Fail()
			break
		}
		if err := next.Click(); err != nil {
			w.log.WithError(err).Error("Pagination click failed")
			w.sess.Fail()
			break
		}
	}
	return items, nil
}

// pageItems extracts and classifies the listing links of the current
// page.
func (w *Walker) pageItems() ([]*Link, error) {
	cur, _ := w.page.CurrentURL()
	w.log.WithField("url", cur).Info("Processing page")

	els, err := w.page.FindAll(listingLinkSelector)
	if err != nil {
		w.log.WithError(err).WithField("url", cur).Error("Listing lookup failed")
		w.sess.Fail()
		w.publishCrawlLog(models.StatusError, cur, 0, 0, err)
		return nil, nil
	}

	var items []*Link
	seen := make(map[string]bool)
	for _, el := range els {
		href, aerr := el.Attr("href")
		if aerr != nil {
			continue
		}
		if !strings.Contains(strings.ToLower(href), Domain) || strings.HasSuffix(href, "settings") {
			continue
		}
		item, perr := Parse(href)
		if perr != nil {
			w.log.WithError(perr).Warn("Skipping unparseable link")
			continue
		}
		if seen[item.URL] {
			return nil, &ConsistencyError{Page: cur, Item: item.URL}
		}
		seen[item.URL] = true
		items = append(items, item)
		if w.cfg.MaxItems > 0 && len(items) >= w.cfg.MaxItems {
			break
		}
	}

	videos := 0
	for _, item := range items {
		if item.Kind == KindVideo {
			videos++
		}
	}
	switch {
	case videos > 0 && videos == len(items):
		w.log.WithField("videos", videos).Info("Got videos")
	case videos > 0:
		w.log.WithFields(logrus.Fields{
			"videos": videos,
			"others": len(items) - videos,
		}).Info("Got videos and other items")
	default:
		w.log.WithField("items", len(items)).Info("Got items")
	}
	w.publishCrawlLog(models.StatusSuccess, cur, videos, len(items)-videos, nil)

	return items, nil
}

// goTo loads url. On failure the renderer is still showing the previous
// page, so callers must not scrape it; the branch yields nothing.
func (w *Walker) goTo(url string) error {
	w.log.WithField("url", url).Info("Going to")
	if err := w.page.Navigate(url); err != nil {
		w.log.WithError(err).WithField("url", url).Error("Navigation failed")
		return err
	}
	return nil
}

func (w *Walker) publishCrawlLog(status, url string, videos, others int, cause error) {
	event := models.CrawlLog{
		RunID:  w.sess.RunID,
		Status: status,
		URL:    url,
		Videos: videos,
		Others: others,
		Stats:  w.sess.Snapshot(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := w.msg.PublishJSON("", CrawlLogRoutingKey, event); err != nil {
		w.log.WithError(err).Debug("Failed to publish crawl event")
	}
}
