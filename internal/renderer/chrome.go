package renderer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

// Chrome implements Renderer on top of a headless Chrome session driven
// by chromedp. One Chrome session is shared by the whole run.
type Chrome struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	cancelAlloc  context.CancelFunc
	log          *logrus.Logger
	clickSettle  time.Duration
}

// NewChrome starts the browser and prepares the session.
func NewChrome(parent context.Context, userAgent string, log *logrus.Logger) (*Chrome, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))

	// Block image loads; the crawl only reads anchors and headings.
	err := chromedp.Run(ctx,
		network.Enable(),
		network.SetBlockedURLs([]string{"*.png", "*.jpg", "*.jpeg", "*.gif"}),
	)
	if err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	return &Chrome{
		ctx:         ctx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
		log:         log,
		clickSettle: 500 * time.Millisecond,
	}, nil
}

func (c *Chrome) Navigate(url string) error {
	if err := chromedp.Run(c.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Find(selector string) (Element, error) {
	n, err := c.count(selector)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return &chromeElement{c: c, selector: selector, index: 0}, nil
}

func (c *Chrome) FindAll(selector string) ([]Element, error) {
	n, err := c.count(selector)
	if err != nil {
		return nil, err
	}
	els := make([]Element, n)
	for i := range els {
		els[i] = &chromeElement{c: c, selector: selector, index: i}
	}
	return els, nil
}

func (c *Chrome) CurrentURL() (string, error) {
	var url string
	if err := chromedp.Run(c.ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (c *Chrome) Evaluate(expr string, out interface{}) error {
	return chromedp.Run(c.ctx, chromedp.Evaluate(expr, out))
}

func (c *Chrome) Cookies() ([]Cookie, error) {
	var cookies []Cookie
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, ck := range cs {
			cookies = append(cookies, Cookie{Name: ck.Name, Value: ck.Value})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancelCtx()
	c.cancelAlloc()
	return err
}

func (c *Chrome) count(selector string) (int, error) {
	var n int
	expr := fmt.Sprintf("document.querySelectorAll(%s).length", jsString(selector))
	if err := chromedp.Run(c.ctx, chromedp.Evaluate(expr, &n)); err != nil {
		return 0, fmt.Errorf("query %s: %w", selector, err)
	}
	return n, nil
}

// chromeElement addresses one match of a selector by index. Operations
// go through JS evaluation, which keeps the whole session on a single
// CDP channel.
type chromeElement struct {
	c        *Chrome
	selector string
	index    int
}

func (e *chromeElement) expr(suffix string) string {
	return fmt.Sprintf("document.querySelectorAll(%s)[%d]%s", jsString(e.selector), e.index, suffix)
}

func (e *chromeElement) Text() (string, error) {
	var s string
	if err := e.c.Evaluate(e.expr(".textContent"), &s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, e.selector)
	}
	return s, nil
}

func (e *chromeElement) Attr(name string) (string, error) {
	var s string
	expr := e.expr(fmt.Sprintf(".getAttribute(%s) || \"\"", jsString(name)))
	if err := e.c.Evaluate(expr, &s); err != nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, e.selector)
	}
	return s, nil
}

func (e *chromeElement) Click() error {
	if err := e.c.Evaluate(e.expr(".click()"), nil); err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, e.selector)
	}
	// Click may trigger a navigation or an in-page pagination load.
	return chromedp.Run(e.c.ctx, chromedp.Sleep(e.c.clickSettle))
}

func (e *chromeElement) SendKeys(text string) error {
	expr := fmt.Sprintf(
		"(function(el){el.value = %s; el.dispatchEvent(new Event('input', {bubbles: true})); el.dispatchEvent(new Event('change', {bubbles: true}));})(%s)",
		jsString(text), e.expr(""))
	if err := e.c.Evaluate(expr, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, e.selector)
	}
	return nil
}

func (e *chromeElement) Selected() (bool, error) {
	var selected bool
	if err := e.c.Evaluate(e.expr(".selected === true"), &selected); err != nil {
		return false, fmt.Errorf("%w: %s", ErrElementNotFound, e.selector)
	}
	return selected, nil
}

// jsString renders s as a JS string literal. Go quoting is a compatible
// subset for the selectors and values used here.
func jsString(s string) string {
	return strconv.Quote(s)
}
