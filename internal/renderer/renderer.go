// Package renderer abstracts the page-rendering session the crawler and
// downloader share. The crawl logic never touches chromedp directly; it
// only sees this interface, so tests can substitute scripted pages.
package renderer

import "errors"

// ErrElementNotFound is returned by Find and element operations when the
// selector matches nothing on the current page. Callers probe alternative
// selectors by checking for it with IsNotFound.
var ErrElementNotFound = errors.New("renderer: element not found")

// IsNotFound reports whether err means a missing element rather than a
// broken session.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrElementNotFound)
}

// Cookie is one browser cookie, as captured for the transfer client.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Element is a handle to a single element on the current page. Handles
// are invalidated by navigation.
type Element interface {
	// Text returns the element's text content.
	Text() (string, error)

	// Attr returns the named attribute, or "" when absent.
	Attr(name string) (string, error)

	// Click activates the element.
	Click() error

	// SendKeys fills the element with the given text.
	SendKeys(text string) error

	// Selected reports whether an option element is currently selected.
	Selected() (bool, error)
}

// Renderer is a live browsing session.
type Renderer interface {
	// Navigate loads the given URL.
	Navigate(url string) error

	// Find returns the first element matching the CSS selector, or
	// ErrElementNotFound.
	Find(selector string) (Element, error)

	// FindAll returns every element matching the CSS selector; an empty
	// result is not an error.
	FindAll(selector string) ([]Element, error)

	// CurrentURL returns the URL of the current page.
	CurrentURL() (string, error)

	// Evaluate runs a JavaScript expression and unmarshals the result
	// into out; out may be nil.
	Evaluate(expr string, out interface{}) error

	// Cookies returns the session cookies.
	Cookies() ([]Cookie, error)

	// Close tears the session down. Safe to call once per session.
	Close() error
}
