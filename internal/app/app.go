// Package app owns the run lifecycle: one rendering session acquired
// and released exactly once, optional login, the crawl pass, the
// download pass, the duplicate reconciliation, and the final tally.
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/crawler"
	"github.com/mirrorkit/vimeograb/internal/download"
	"github.com/mirrorkit/vimeograb/internal/renderer"
	"github.com/mirrorkit/vimeograb/internal/transfer"
)

const loginURL = "https://" + crawler.Domain + "/log_in"

type App struct {
	cfg *config.Config
	log *logrus.Logger
	msg messaging.Client
}

func New(cfg *config.Config, log *logrus.Logger, msg messaging.Client) *App {
	return &App{
		cfg: cfg,
		log: log,
		msg: msg,
	}
}

// Run executes the whole pass and returns the accumulated error count.
// ctx only governs the bulk transfers: an interrupt fails the current
// download, not the run.
func (a *App) Run(ctx context.Context) int {
	sess := crawler.NewSession(a.cfg.Crawler.TargetDir)

	a.crawlAndDownload(ctx, sess)

	if sess.Errors > 0 {
		a.log.WithField("errors", sess.Errors).Info("Crawling completed with errors")
	} else {
		a.log.Info("Crawling completed")
	}

	if err := download.Reconcile(sess.TargetDir, a.log); err != nil {
		a.log.WithError(err).Error("Duplicate reconciliation failed")
		sess.Fail()
	}

	return sess.Errors
}

// crawlAndDownload holds the scoped rendering session. The browser is
// torn down on every exit path, including a top-level panic, before the
// run reports its tally.
func (a *App) crawlAndDownload(ctx context.Context, sess *crawler.Session) {
	// The browser session outlives ctx on purpose: a transfer interrupt
	// must not kill the page session mid-run.
	page, err := renderer.NewChrome(context.Background(), a.cfg.Crawler.UserAgent, a.log)
	if err != nil {
		a.log.WithError(err).Error("Failed to start rendering session")
		sess.Fail()
		return
	}
	defer page.Close()

	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("Run failed")
			sess.Fail()
		}
	}()

	if a.cfg.Crawler.Email != "" {
		if !a.login(page, sess) {
			a.log.Error("Aborting")
			return
		}
	}

	start, err := a.startLink(page)
	if err != nil {
		a.log.WithError(err).Error("No usable start URL")
		sess.Fail()
		return
	}

	walker := crawler.NewWalker(&a.cfg.Crawler, a.log, page, a.msg, sess)
	if err := walker.Run(start); err != nil {
		// A consistency violation is an internal-invariant failure;
		// surface it in full and stop the walk where it stands.
		a.log.WithError(err).Error("Crawl aborted")
		sess.Fail()
	}

	if len(sess.Folders) > 0 {
		a.log.WithField("folders", len(sess.Folders)).Info("Got folders")
	}
	if len(sess.VideoIDs) == 0 {
		return
	}

	client := transfer.NewHTTPClient(a.log)
	engine := download.NewEngine(&a.cfg.Crawler, &a.cfg.Download, a.log, page, client, a.msg, sess)
	engine.Run(ctx)
}

// startLink resolves the crawl root: the configured start URL, or the
// logged-in account page when only credentials were given.
func (a *App) startLink(page renderer.Renderer) (*crawler.Link, error) {
	if a.cfg.Crawler.StartURL != "" {
		return crawler.Parse(a.cfg.Crawler.StartURL)
	}
	current, err := page.CurrentURL()
	if err != nil {
		return nil, err
	}
	return crawler.Parse(current)
}

// login drives the site's login form, up to the configured retry budget.
func (a *App) login(page renderer.Renderer, sess *crawler.Session) bool {
	for i := 0; i < a.cfg.Crawler.Retries; i++ {
		a.log.WithField("email", a.cfg.Crawler.Email).Info("Logging in")
		if err := page.Navigate(loginURL); err != nil {
			a.log.WithError(err).Error("Login failed")
			continue
		}
		if err := a.submitLogin(page); err != nil {
			a.log.WithError(err).Error("Login failed")
			continue
		}
		// Brief settle prevents occasional login races.
		time.Sleep(time.Second)
		return true
	}
	sess.Fail()
	return false
}

func (a *App) submitLogin(page renderer.Renderer) error {
	email, err := page.Find("#email")
	if err != nil {
		return err
	}
	if err := email.SendKeys(a.cfg.Crawler.Email); err != nil {
		return err
	}
	password, err := page.Find("#password")
	if err != nil {
		return err
	}
	if err := password.SendKeys(a.cfg.Crawler.Password); err != nil {
		return err
	}
	submit, err := page.Find("#login_form input[type=submit]")
	if err != nil {
		return err
	}
	if err := submit.Click(); err != nil {
		return err
	}
	profile, err := page.Find("#menu .me a")
	if err != nil {
		return err
	}
	return profile.Click()
}
