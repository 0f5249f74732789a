package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/crawler"
	"github.com/mirrorkit/vimeograb/internal/renderer"
	"github.com/mirrorkit/vimeograb/internal/transfer"
	"github.com/mirrorkit/vimeograb/pkg/models"
)

// VideoLogRoutingKey is where the engine publishes per-video events.
const VideoLogRoutingKey = "video.log"

// progressQuantum is the byte interval between progress log lines.
const progressQuantum = 10 * 1024 * 1024

const (
	titleSelector          = "h1[itemprop=name]"
	panelOpenSelector      = ".iconify_down_b"
	panelSelector          = "#download"
	panelLinkSelector      = "#download a"
	settingsSelector       = "#change_settings"
	languageOptionSelector = "select[name=language] option"
	settingsSubmitSelector = "#settings_form input[type=submit]"
)

// qualityPreferences is scanned best to worst; the trailing entry is a
// catch-all that matches any download link.
var qualityPreferences = []string{"Original", "HD", "SD", "Mobile", "file"}

// Engine downloads every video in the session registry, most recent
// first, and materializes the folder links.
type Engine struct {
	crawlCfg *config.CrawlerConfig
	cfg      *config.DownloadConfig
	log      *logrus.Logger
	page     renderer.Renderer
	client   transfer.Client
	msg      messaging.Client
	sess     *crawler.Session

	// language is cleared once the preference turns out unsupported, so
	// later videos stop retrying it.
	language string
}

func NewEngine(crawlCfg *config.CrawlerConfig, cfg *config.DownloadConfig, log *logrus.Logger,
	page renderer.Renderer, client transfer.Client, msg messaging.Client, sess *crawler.Session) *Engine {
	return &Engine{
		crawlCfg: crawlCfg,
		cfg:      cfg,
		log:      log,
		page:     page,
		client:   client,
		msg:      msg,
		sess:     sess,
		language: cfg.Language,
	}
}

// Run processes the whole registry. A single video's failure never
// aborts the pass.
func (e *Engine) Run(ctx context.Context) {
	ids := e.sess.SortedIDs()
	if len(ids) == 0 {
		return
	}
	e.log.WithField("count", len(ids)).Info("Processing videos")
	for n, id := range ids {
		e.processVideo(ctx, id, n+1, len(ids))
	}
}

// processVideo runs the outer retry loop for one video and then links
// the result into every folder that contains it.
func (e *Engine) processVideo(ctx context.Context, vID int64, number, total int) {
	retries := e.crawlCfg.Retries
	var fileName string
	completed := false

	for attempt := 0; attempt < retries; attempt++ {
		fn, done := e.attemptVideo(ctx, vID, number, total)
		if fn != "" {
			fileName = fn
		}
		if done {
			completed = true
			break
		}
	}
	if !completed {
		e.log.WithFields(logrus.Fields{
			"video":   vID,
			"retries": retries,
		}).Info("Download ultimately failed")
		e.publishVideoLog(models.VideoLog{
			Status:  models.StatusError,
			VideoID: vID,
			Number:  number,
			Total:   total,
			Error:   fmt.Sprintf("failed after %d attempts", retries),
		})
	}

	if fileName != "" {
		e.linkFolders(vID, fileName)
	}
}

// attemptVideo performs one full attempt: page acquisition, variant
// selection, naming, optional language toggle, transfer, validation.
// done means the outer loop should stop (success or a deliberate skip).
func (e *Engine) attemptVideo(ctx context.Context, vID int64, number, total int) (fileName string, done bool) {
	title, panelReady := e.acquirePage(vID)

	var variant renderer.Element
	var variantLabel string
	if panelReady {
		variant, variantLabel = e.pickVariant()
	}

	description, extension := "NONE", "NONE"
	var href, userAgent string
	var cookies []renderer.Cookie
	var expected int64

	if variant != nil {
		if err := e.page.Evaluate("window.navigator.userAgent", &userAgent); err != nil {
			e.log.WithError(err).Warn("Failed to read user agent")
		}
		var err error
		cookies, err = e.page.Cookies()
		if err != nil {
			e.log.WithError(err).Warn("Failed to capture cookies")
		}
		suggested, _ := variant.Attr("download")
		parts := strings.Split(suggested, ".")
		extension = parts[len(parts)-1]
		description = fmt.Sprintf("%s/%s", variantLabel, strings.ToUpper(extension))
		href, _ = variant.Attr("href")

		if e.cfg.ProbeSizes {
			size, perr := e.client.ContentLength(href, userAgent, cookies)
			if perr != nil {
				e.log.WithError(perr).Warn("Size probe failed")
			} else {
				expected = size
				e.sess.TotalBytes += size
				description += ", " + readableSize(size)
			}
		}
	}

	fields := logrus.Fields{
		"video":    vID,
		"progress": fmt.Sprintf("%d/%d %d%%", number, total, number*100/total),
	}
	if e.sess.TotalBytes > 0 {
		fields["total"] = readableSize(e.sess.TotalBytes)
	}
	e.log.WithFields(fields).Infof("%s (%s)", title, description)

	base := crawler.SanitizeFileName(title)
	if base == "" {
		base = strconv.FormatInt(vID, 10)
	}
	fileName = base + "." + strings.ToLower(extension)
	targetPath := filepath.Join(e.sess.TargetDir, fileName)

	if e.language != "" {
		e.applyLanguage()
	}

	if variant == nil {
		return fileName, false
	}

	downloadOK := false
	downloadSkip := false
	if expected > 0 {
		if st, err := os.Stat(targetPath); err == nil {
			switch {
			case st.Size() == expected:
				downloadOK = true
			case st.Size() > expected:
				e.sess.Fail()
				e.log.WithFields(logrus.Fields{
					"local":  st.Size(),
					"remote": expected,
				}).Error("Local file is larger than remote file")
				downloadSkip = true
			}
		}
	}

	if e.cfg.Enabled && !downloadOK {
		downloadOK = e.transferAndValidate(ctx, href, targetPath, userAgent, cookies, expected)
	}

	switch {
	case downloadOK:
		e.log.WithField("video", vID).Info("OK")
		e.sess.Downloaded++
		e.publishVideoLog(models.VideoLog{
			Status:  models.StatusSuccess,
			VideoID: vID,
			Title:   title,
			Variant: description,
			Number:  number,
			Total:   total,
			Bytes:   expected,
		})
		return fileName, true
	case downloadSkip || !e.cfg.Enabled:
		e.log.WithField("video", vID).Info("Downloading skipped")
		e.publishVideoLog(models.VideoLog{
			Status:  models.StatusSkipped,
			VideoID: vID,
			Title:   title,
			Variant: description,
			Number:  number,
			Total:   total,
		})
		return fileName, true
	default:
		e.publishVideoLog(models.VideoLog{
			Status:  models.StatusRetry,
			VideoID: vID,
			Title:   title,
			Number:  number,
			Total:   total,
		})
		return fileName, false
	}
}

// acquirePage loads the video page, reads the title, and opens the
// download panel. The sub-loop has its own attempt budget, independent
// of the outer per-video retries.
func (e *Engine) acquirePage(vID int64) (string, bool) {
	retries := e.crawlCfg.Retries
	for i := 0; ; i++ {
		if err := e.goTo(crawler.VideoURL(vID)); err == nil {
			title, lerr := e.loadVideoPage()
			if lerr == nil {
				return title, true
			}
			e.log.WithError(lerr).WithField("video", vID).Warn("Video page not ready")
		}
		if i >= retries {
			e.log.WithField("video", vID).Error("Page load failed")
			e.sess.Fail()
			return "", false
		}
	}
}

func (e *Engine) loadVideoPage() (string, error) {
	titleEl, err := e.page.Find(titleSelector)
	if err != nil {
		return "", err
	}
	title, err := titleEl.Text()
	if err != nil {
		return "", err
	}
	title = strings.TrimRight(strings.TrimSpace(title), ".")

	opener, err := e.page.Find(panelOpenSelector)
	if err != nil {
		return "", err
	}
	if err := opener.Click(); err != nil {
		return "", err
	}
	if _, err := e.page.Find(panelSelector); err != nil {
		return "", err
	}
	return title, nil
}

// pickVariant scans the preference list against the panel links; the
// first match wins and no further links are considered.
func (e *Engine) pickVariant() (renderer.Element, string) {
	els, err := e.page.FindAll(panelLinkSelector)
	if err != nil {
		return nil, ""
	}
	for _, pref := range qualityPreferences {
		for _, el := range els {
			text, terr := el.Text()
			if terr != nil {
				continue
			}
			if strings.Contains(text, pref) {
				return el, strings.TrimSpace(text)
			}
		}
	}
	return nil, ""
}

// applyLanguage is a best-effort UI toggle; nothing here ever fails the
// video.
func (e *Engine) applyLanguage() {
	settings, err := e.page.Find(settingsSelector)
	if err != nil {
		e.log.WithField("language", e.language).Warn("Failed to set language, settings not available")
		return
	}
	if err := settings.Click(); err != nil {
		e.log.WithError(err).Warn("Failed to open settings")
		return
	}

	options, err := e.page.FindAll(languageOptionSelector)
	if err != nil || len(options) == 0 {
		e.log.WithField("language", e.language).Warn("Failed to set language, settings not available")
		return
	}

	currentIdx := -1
	for i, opt := range options {
		selected, serr := opt.Selected()
		if serr == nil && selected {
			currentIdx = i
			break
		}
	}
	if currentIdx > 0 {
		current := options[currentIdx]
		value, _ := current.Attr("value")
		text, _ := current.Text()
		e.log.WithFields(logrus.Fields{
			"value": strings.ToUpper(value),
			"label": text,
		}).Info("Language already set")
		return
	}

	want := strings.ToLower(e.language)
	matches := e.matchOptions(options, func(opt renderer.Element) string {
		text, _ := opt.Text()
		return text
	}, want)
	if len(matches) != 1 {
		matches = e.matchOptions(options, func(opt renderer.Element) string {
			value, _ := opt.Attr("value")
			return value
		}, want)
	}
	if len(matches) != 1 {
		e.log.WithField("language", e.language).Error("Unsupported language")
		e.language = ""
		return
	}

	text, _ := matches[0].Text()
	e.log.WithField("language", text).Info("Language not set, setting")
	if err := matches[0].Click(); err != nil {
		e.log.WithError(err).Warn("Failed to select language option")
		return
	}
	submit, err := e.page.Find(settingsSubmitSelector)
	if err != nil {
		e.log.Warn("Failed to set language, settings not available")
		return
	}
	if err := submit.Click(); err != nil {
		e.log.WithError(err).Warn("Failed to submit settings")
	}
}

func (e *Engine) matchOptions(options []renderer.Element, read func(renderer.Element) string, want string) []renderer.Element {
	var matches []renderer.Element
	for _, opt := range options {
		if strings.HasPrefix(strings.ToLower(read(opt)), want) {
			matches = append(matches, opt)
		}
	}
	return matches
}

// transferAndValidate streams the variant to disk and verifies the
// result against the expected size.
func (e *Engine) transferAndValidate(ctx context.Context, href, targetPath, userAgent string,
	cookies []renderer.Cookie, expected int64) bool {

	var lastQuantum int64
	onProgress := func(total int64) {
		if q := total / progressQuantum; q > lastQuantum {
			lastQuantum = q
			e.log.WithField("downloaded", readableSize(total)).Debug("Downloading")
		}
	}

	timeout := time.Duration(e.cfg.Timeout) * time.Second
	err := e.client.Download(ctx, href, targetPath, userAgent, cookies, timeout, onProgress)
	if err != nil {
		e.sess.Fail()
		if errors.Is(err, context.Canceled) {
			e.log.Error("Download interrupted")
		} else {
			e.log.WithError(err).Error("Download failed")
		}
		return false
	}

	st, serr := os.Stat(targetPath)
	if serr != nil || st.Size() == 0 {
		e.sess.Fail()
		e.log.Error("Downloaded file seems corrupt")
		return false
	}
	if expected > 0 {
		if st.Size() > expected {
			e.sess.Fail()
			e.log.WithFields(logrus.Fields{
				"local":  st.Size(),
				"remote": expected,
			}).Error("Downloaded file larger than remote file")
			return false
		}
		if st.Size() < expected {
			e.sess.Fail()
			e.log.WithFields(logrus.Fields{
				"local":  st.Size(),
				"remote": expected,
			}).Error("Downloaded file smaller than remote file")
			return false
		}
	}
	return true
}

// linkFolders mirrors the flat-store file into every folder containing
// the video. Runs regardless of the transfer outcome.
func (e *Engine) linkFolders(vID int64, fileName string) {
	for _, folder := range e.sess.FoldersFor(vID) {
		linkPath := filepath.Join(folder.Path, fileName)
		if _, err := os.Lstat(linkPath); err == nil {
			os.Remove(linkPath)
		}
		var err error
		if e.cfg.HardLinks {
			err = os.Link(filepath.Join(e.sess.TargetDir, fileName), linkPath)
		} else {
			err = os.Symlink(filepath.Join("..", fileName), linkPath)
		}
		if err != nil {
			e.log.WithError(err).WithField("path", linkPath).Warn("Can't create link")
			e.sess.Fail()
		}
	}
}

// goTo loads url. On failure the renderer is still showing the previous
// page; the caller must treat the attempt as failed rather than scrape
// the stale page.
func (e *Engine) goTo(url string) error {
	e.log.WithField("url", url).Info("Going to")
	if err := e.page.Navigate(url); err != nil {
		e.log.WithError(err).WithField("url", url).Error("Navigation failed")
		return err
	}
	return nil
}

func (e *Engine) publishVideoLog(event models.VideoLog) {
	event.RunID = e.sess.RunID
	event.Stats = e.sess.Snapshot()
	if err := e.msg.PublishJSON("", VideoLogRoutingKey, event); err != nil {
		e.log.WithError(err).Debug("Failed to publish video event")
	}
}

var sizeUnits = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

// readableSize renders a byte count for humans.
func readableSize(size int64) string {
	value := float64(size)
	unit := sizeUnits[0]
	for i, u := range sizeUnits {
		unit = u
		if value < 1024 || i == len(sizeUnits)-1 {
			break
		}
		value /= 1024
	}
	formatted := fmt.Sprintf("%.1f", value)
	if len(formatted) > 3 {
		formatted = fmt.Sprintf("%.0f", value)
	}
	return formatted + " " + unit
}
