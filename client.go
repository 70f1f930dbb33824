package webbridge

import (
	"time"

	"go.uber.org/zap"
)

// spinnerFallbackDelay is how long after a page finishes a still-hidden view
// may keep its loading indicator before the bridge forces a "spinner" stop
// message. Variable so tests can shorten the wait.
var spinnerFallbackDelay = 2000 * time.Millisecond

// engineClient adapts engine callbacks onto the session: the navigation
// policy, page lifecycle fan-out, load failures, and hardware key dispatch.
// Engines invoke it on the bridge main context only.
type engineClient struct {
	s   *Session
	log *zap.Logger
}

// OnNavigationAttempt decides one navigation, first match wins: a plugin
// override handles it internally, the navigation allow-list admits it into
// the view, the intent allow-list delegates it to the host opener, otherwise
// it is blocked. Plugin overrides always win, and nothing reaches an
// external handler without explicit allow-listing.
func (c *engineClient) OnNavigationAttempt(url string) bool {
	s := c.s
	if s.pm.OverrideURLLoading(url) {
		c.decided(url, NavInternalHandled)
		return true
	}
	if s.pm.ShouldAllowNavigation(url) {
		c.decided(url, NavAllowed)
		return false
	}
	if s.pm.ShouldOpenExternalURL(url) {
		c.decided(url, NavExternalDelegated)
		s.ShowWebPage(url, true, false)
		return true
	}
	c.decided(url, NavBlocked)
	return true
}

func (c *engineClient) decided(url string, d NavigationDecision) {
	if d == NavBlocked {
		c.log.Warn("blocked navigation to non-allowed url", zap.String("url", url))
		return
	}
	c.log.Debug("navigation decided", zap.String("url", url), zap.Stringer("decision", d))
}

// OnPageStarted resets per-page state: key claims are dropped and plugins
// are told to re-establish their page hooks.
func (c *engineClient) OnPageStarted(url string) {
	c.log.Debug("page started", zap.String("url", url))
	c.s.clearBoundKeys()
	c.s.pm.OnReset()
	c.s.pm.PostMessage("onPageStarted", url)
}

// OnPageFinished cancels the load deadline and notifies plugins. A view the
// host has not revealed yet gets a deferred, supersedable "spinner" stop so
// a page that never signals readiness cannot hold the indicator forever.
// Finishing the blank sentinel signals exit.
func (c *engineClient) OnPageFinished(url string) {
	c.log.Debug("page finished", zap.String("url", url))
	s := c.s
	s.wd.invalidate()
	s.pm.PostMessage("onPageFinished", url)
	if !s.engine.Visible() {
		t := s.wd.ticket()
		s.looper.postDelayed(spinnerFallbackDelay, t.Valid, func() {
			s.pm.PostMessage("spinner", "stop")
		})
	}
	if url == blankURL {
		s.pm.PostMessage("exit", nil)
	}
}

// OnLoadError cancels the load deadline and converts the failure into the
// structured event plugins consume. Never an error to the caller.
func (c *engineClient) OnLoadError(code int, description, failingURL string) {
	c.log.Warn("load error",
		zap.Int("code", code), zap.String("description", description), zap.String("url", failingURL))
	s := c.s
	s.wd.invalidate()
	s.pm.PostMessage("onReceivedError", &LoadError{
		ErrorCode:   code,
		Description: description,
		URL:         failingURL,
	})
}

// OnDispatchKey implements the two-phase key contract. Press: an active
// overlay or a script claim consumes outright, back otherwise answers
// whether history can absorb it. Release: back dismisses the overlay if one
// is up, claimed keys fire their named document event, back otherwise
// performs the history step the press promised.
func (c *engineClient) OnDispatchKey(ev KeyEvent) KeyVerdict {
	s := c.s
	isBack := ev.Code == KeyBack
	switch ev.Action {
	case KeyDown:
		switch {
		case isBack && s.OverlayShowing():
			return KeyConsumed
		case s.IsButtonPlumbedToJS(ev.Code):
			return KeyConsumed
		case isBack:
			if s.engine.CanGoBack() {
				return KeyConsumed
			}
			return KeyPassthrough
		}
	case KeyUp:
		switch {
		case isBack && s.OverlayShowing():
			s.HideOverlay()
			return KeyConsumed
		case s.IsButtonPlumbedToJS(ev.Code):
			if name, ok := jsKeyEvents[ev.Code]; ok {
				s.sendJavascriptEvent(name)
				return KeyConsumed
			}
		case isBack:
			if s.engine.GoBack() {
				return KeyConsumed
			}
			return KeyPassthrough
		}
	}
	return KeyUnhandled
}
