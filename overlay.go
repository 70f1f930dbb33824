package webbridge

// OverlayView is an opaque, host-rendered surface shown above the page,
// typically fullscreen media. The bridge only tracks the at-most-one slot
// and the dismissal callback; rendering is the host's business.
type OverlayView interface{}

// ShowOverlay presents view above the page. onHidden runs exactly once, when
// the overlay is dismissed. While an overlay is active a second request is
// rejected by completing its callback immediately.
func (s *Session) ShowOverlay(view OverlayView, onHidden func()) {
	if !s.ready("showOverlay") {
		return
	}
	s.overlayMu.Lock()
	if s.overlay != nil {
		s.overlayMu.Unlock()
		s.log.Debug("overlay already active, rejecting request")
		if onHidden != nil {
			onHidden()
		}
		return
	}
	s.overlay = view
	s.overlayHidden = onHidden
	s.overlayMu.Unlock()
	s.log.Debug("overlay shown")
}

// HideOverlay dismisses the active overlay, if any, and completes its
// callback.
func (s *Session) HideOverlay() {
	s.dismissOverlay()
}

// OverlayShowing reports whether an overlay is active. The back key is
// consumed while one is.
func (s *Session) OverlayShowing() bool {
	s.overlayMu.Lock()
	defer s.overlayMu.Unlock()
	return s.overlay != nil
}

func (s *Session) dismissOverlay() {
	s.overlayMu.Lock()
	if s.overlay == nil {
		s.overlayMu.Unlock()
		return
	}
	s.overlay = nil
	cb := s.overlayHidden
	s.overlayHidden = nil
	s.overlayMu.Unlock()
	s.log.Debug("overlay hidden")
	if cb != nil {
		cb()
	}
}
