package watch

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	logx "watchlb/pkg/logx"
	"watchlb/pkg/tgui"
)

// Notifier delivers watcher output to the configured chat.
type Notifier interface {
	Send(ctx context.Context, text string) error
	SendHTML(ctx context.Context, html string) error
}

// fmtTime is the user-visible time rendering used in replies.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC1123)
}

// Engine runs one check cycle: fetch, parse, compare, notify. All failure
// paths complete normally so a bad cycle never breaks the timer.
type Engine struct {
	url      string
	fetch    Fetcher
	settings *SettingsStore
	notify   Notifier
	log      logx.Logger
	now      func() time.Time

	// mu serializes check cycles; a slow fetch and a timer tick must not
	// interleave their read-modify-write of the settings document.
	mu sync.Mutex
}

func NewEngine(url string, fetch Fetcher, settings *SettingsStore, notify Notifier, log logx.Logger) *Engine {
	if url == "" {
		url = DefaultURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		url:      url,
		fetch:    fetch,
		settings: settings,
		notify:   notify,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Check runs one cycle. verbose marks user-triggered checks, which always
// reply (even "no match") and bypass the duplicate-suppression guards.
func (e *Engine) Check(ctx context.Context, verbose bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.settings.Update(ctx, func(s *Settings) {
		s.LastIntervalUpdate = NewTimestamp(now)
	}); err != nil {
		e.log.Error("persist check time", logx.Err(err))
	}

	snap := e.settings.Snapshot()
	switch snap.PauseUntil.Kind {
	case PausedForever:
		if verbose {
			e.send(ctx, "Paused, use /resume to restart")
		}
		return
	case PausedUntil:
		if now.After(snap.PauseUntil.Until) {
			// pause expired; clear lazily and continue with this cycle
			if err := e.settings.Update(ctx, func(s *Settings) {
				s.PauseUntil = Pause{Kind: Unpaused}
			}); err != nil {
				e.log.Error("clear expired pause", logx.Err(err))
			}
		} else {
			if verbose {
				e.send(ctx, "Paused, will resume on "+fmtTime(snap.PauseUntil.Until))
			}
			return
		}
	}

	status, body, err := e.fetch.Fetch(ctx, e.url)
	if err != nil {
		e.log.Warn("fetch failed", logx.Err(err), logx.String("url", e.url))
		e.send(ctx, fmt.Sprintf("Fetch error: %v", err))
		return
	}
	if status != 200 {
		e.log.Warn("fetch returned non-200", logx.Int("status", status), logx.String("url", e.url))
		e.send(ctx, fmt.Sprintf("Fetch error: %d", status))
		return
	}

	offer, ok := ParseOffer(body)
	if !ok {
		key, werr := e.settings.WriteInvalid(ctx, string(body))
		if werr != nil {
			e.log.Error("dump invalid page", logx.Err(werr))
		}
		e.send(ctx, "offer-name class not found, perhaps the page formatting has changed or there was a page load error: "+key)
		return
	}

	if !verbose && offer.MD5 == snap.LastMD5 {
		e.log.Debug("no changes since last update")
		if snap.LastMD5Update != nil {
			stale := now.Sub(snap.LastMD5Update.Time)
			if !snap.Sent24hrMessage && stale > 24*time.Hour {
				// flag first so a crash mid-send cannot re-fire the warning
				if err := e.settings.Update(ctx, func(s *Settings) {
					s.Sent24hrMessage = true
				}); err != nil {
					e.log.Error("persist stale flag", logx.Err(err))
				}
				e.send(ctx, "No updates for more than 24h")
			}
		}
		return
	}

	if err := e.settings.Update(ctx, func(s *Settings) {
		s.Sent24hrMessage = false
		s.LastMD5 = offer.MD5
		s.LastMD5Update = NewTimestamp(now)
		s.LastOfferID = offer.ID
		s.LastOfferName = offer.Name
		s.LastOfferPrice = offer.Price
	}); err != nil {
		e.log.Error("persist offer state", logx.Err(err))
	}

	term, found := firstMatch(snap.Matching, body)
	if !found {
		e.log.Info("no matching terms", logx.String("offer", offer.Name))
		if verbose {
			e.send(ctx, "No matching terms in '"+offer.Name+"'")
		}
		return
	}

	if !verbose && offer.Name == snap.LastMatchedOfferName {
		// same underlying offer re-rendered; don't report it twice
		e.log.Info("suppressing duplicate match", logx.String("offer", offer.Name), logx.String("term", term))
		return
	}
	if err := e.settings.Update(ctx, func(s *Settings) {
		s.LastMatchedOfferName = offer.Name
	}); err != nil {
		e.log.Error("persist matched offer", logx.Err(err))
	}

	msg := matchMessage(term, offer)
	if !verbose && msg == snap.LastSentMessage {
		e.log.Info("suppressing repeat notification", logx.String("offer", offer.Name))
		return
	}
	if err := e.settings.Update(ctx, func(s *Settings) {
		s.LastSentMessage = msg
	}); err != nil {
		e.log.Error("persist sent message", logx.Err(err))
	}

	if offer.Link != "" {
		e.sendHTML(ctx, matchMessageHTML(term, offer))
	} else {
		e.send(ctx, msg)
	}
	if err := e.settings.AppendMatch(ctx, offer); err != nil {
		e.log.Error("append offer history", logx.Err(err))
	}
	e.log.Info("match reported", logx.String("term", term), logx.String("offer", offer.Name), logx.String("price", offer.Price))
}

// firstMatch scans the keyword list in order against the raw body and
// returns the first whole-word, case-insensitive hit.
func firstMatch(terms []string, body []byte) (string, bool) {
	for _, term := range terms {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			continue
		}
		if re.Match(body) {
			return term, true
		}
	}
	return "", false
}

// matchMessage builds the canonical plain-text notification. This exact
// text is what lastSentMessage dedup compares against.
func matchMessage(term string, o Offer) string {
	msg := "Found a match for " + term
	if o.Price != "" {
		msg += " ($" + o.Price + ")"
	}
	msg += " in " + o.Name + "\n" + DefaultURL
	return msg
}

// matchMessageHTML is the hyperlinked variant sent when the offer carries
// a cart link.
func matchMessageHTML(term string, o Offer) string {
	h := tgui.Esc("Found a match for " + term)
	if o.Price != "" {
		h += tgui.Esc(" ($" + o.Price + ")")
	}
	h += tgui.Esc(" in ") + tgui.Link(o.Name, o.Link)
	return string(h)
}

func (e *Engine) send(ctx context.Context, text string) {
	if err := e.notify.Send(ctx, text); err != nil {
		e.log.Warn("notify failed", logx.Err(err))
	}
}

func (e *Engine) sendHTML(ctx context.Context, html string) {
	if err := e.notify.SendHTML(ctx, html); err != nil {
		e.log.Warn("notify failed", logx.Err(err))
	}
}
