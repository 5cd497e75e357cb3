package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchlb/internal/storage"
	logx "watchlb/pkg/logx"
)

const (
	settingsKey   = "watch-lb-settings"
	matchPrefix   = "offer-match-"
	invalidPrefix = "offer-invalid-"

	// keyTimeFormat is fixed-width so lexicographic key order equals
	// chronological order.
	keyTimeFormat = "20060102150405"

	// DefaultRate is the built-in check interval in minutes.
	DefaultRate = 15
)

// defaultMatching is the built-in keyword list. Matching is whole-word only.
var defaultMatching = []string{
	"bordeaux",
	"mounts",
	"trespass",
	"cabernet",
	"franc",
	"rioja",
	"syrah",
	"emilion",
	"les ormes",
	"petit",
}

const wireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Timestamp serializes as an ISO-8601 string with millisecond precision,
// matching the historical wire format of the settings document.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) *Timestamp {
	ts := Timestamp{t.UTC()}
	return &ts
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(wireTimeFormat))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(wireTimeFormat, s)
	if err != nil {
		// older documents wrote dates without fractional seconds
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

// PauseKind enumerates the pause states.
type PauseKind int

const (
	Unpaused PauseKind = iota
	PausedForever
	PausedUntil
)

// Pause is the tagged form of the persisted pauseUntil union. On the wire
// it stays the legacy encoding: -1 unpaused, 0 forever, a date string (or
// epoch milliseconds) for a deadline.
type Pause struct {
	Kind  PauseKind
	Until time.Time // valid only when Kind == PausedUntil
}

func PauseFor(deadline time.Time) Pause {
	return Pause{Kind: PausedUntil, Until: deadline.UTC()}
}

func (p Pause) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PausedForever:
		return []byte("0"), nil
	case PausedUntil:
		return json.Marshal(p.Until.UTC().Format(wireTimeFormat))
	default:
		return []byte("-1"), nil
	}
}

func (p *Pause) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		t, err := time.Parse(wireTimeFormat, s)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("pauseUntil %q: %w", s, err)
			}
		}
		*p = Pause{Kind: PausedUntil, Until: t.UTC()}
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("pauseUntil: %s", string(b))
	}
	switch {
	case n == 0:
		*p = Pause{Kind: PausedForever}
	case n > 0:
		// legacy numeric deadline in epoch milliseconds
		*p = Pause{Kind: PausedUntil, Until: time.UnixMilli(n).UTC()}
	default:
		*p = Pause{Kind: Unpaused}
	}
	return nil
}

// Settings is the single persisted document. Field names are pinned to the
// historical JSON so existing documents keep loading.
type Settings struct {
	Matching             []string   `json:"matching"`
	LastMD5              string     `json:"lastMD5"`
	LastMD5Update        *Timestamp `json:"lastMD5Update"`
	LastIntervalUpdate   *Timestamp `json:"lastIntervalUpdate"`
	LastOfferID          string     `json:"lastOfferID,omitempty"`
	LastOfferName        string     `json:"lastOfferName,omitempty"`
	LastOfferPrice       string     `json:"lastOfferPrice,omitempty"`
	LastMatchedOfferName string     `json:"lastMatchedOfferName,omitempty"`
	LastSentMessage      string     `json:"lastSentMessage,omitempty"`
	Sent24hrMessage      bool       `json:"sent24hrMessage"`
	DefaultRate          int        `json:"defaultRate"`
	PauseUntil           Pause      `json:"pauseUntil"`
}

func defaultSettings() Settings {
	return Settings{
		Matching:   append([]string(nil), defaultMatching...),
		PauseUntil: Pause{Kind: Unpaused},
	}
}

// DefaultMatching returns a copy of the built-in keyword list.
func DefaultMatching() []string {
	return append([]string(nil), defaultMatching...)
}

// SettingsStore owns the in-memory settings mirror; every mutation goes
// through Update so the persisted copy never drifts from memory.
type SettingsStore struct {
	kv  storage.Store
	log logx.Logger
	now func() time.Time

	// envRate seeds defaultRate when the loaded document has none.
	envRate int

	mu  sync.Mutex
	cur Settings
}

func NewSettingsStore(kv storage.Store, envRate int, log logx.Logger) *SettingsStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	if envRate <= 0 {
		envRate = DefaultRate
	}
	return &SettingsStore{
		kv:      kv,
		log:     log,
		now:     time.Now,
		envRate: envRate,
		cur:     defaultSettings(),
	}
}

// SetClock overrides the time source. Tests only.
func (s *SettingsStore) SetClock(now func() time.Time) { s.now = now }

// Load fetches the persisted document and merges it over the defaults:
// fields present in the document win, absent fields keep their default.
// A missing document (or one that had to be backfilled) is persisted so
// the next boot starts from a complete copy.
func (s *SettingsStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = defaultSettings()

	raw, ok, err := s.kv.Get(ctx, settingsKey)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	dirty := !ok
	hasMatching := false
	if ok {
		// An empty matching list the user emptied on purpose must survive
		// a restart, so key presence is checked before the typed decode.
		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
		if v, present := doc["matching"]; present && string(v) != "null" {
			hasMatching = true
		}
		// Unmarshal over the defaults: only keys present in the document
		// are touched.
		if err := json.Unmarshal([]byte(raw), &s.cur); err != nil {
			return fmt.Errorf("parse settings: %w", err)
		}
	} else {
		s.log.Info("initializing settings from defaults")
	}

	if s.cur.DefaultRate < 1 {
		s.cur.DefaultRate = s.envRate
		dirty = true
	}
	if len(s.cur.Matching) == 0 && !hasMatching {
		s.cur.Matching = DefaultMatching()
		dirty = true
	}

	if dirty {
		if err := s.persistLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Update applies mutate to the settings and persists the whole document
// before returning. The interval floor is enforced here so a bad mutation
// can never persist a rate below one minute.
func (s *SettingsStore) Update(ctx context.Context, mutate func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.cur)
	if s.cur.DefaultRate < 1 {
		s.cur.DefaultRate = s.envRate
	}
	return s.persistLocked(ctx)
}

func (s *SettingsStore) persistLocked(ctx context.Context) error {
	b, err := json.Marshal(&s.cur)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.kv.Set(ctx, settingsKey, string(b)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.cur
	cp.Matching = append([]string(nil), s.cur.Matching...)
	return cp
}

// Dump renders the current document as JSON, for the diagnostics command.
func (s *SettingsStore) Dump() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(&s.cur)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendMatch writes one offer-history entry keyed by the current time.
func (s *SettingsStore) AppendMatch(ctx context.Context, o Offer) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	key := matchPrefix + s.now().UTC().Format(keyTimeFormat)
	return s.kv.Set(ctx, key, string(b))
}

// RecentMatches returns up to n history entries, newest first, each
// rendered as "key: value".
func (s *SettingsStore) RecentMatches(ctx context.Context, n int) ([]string, error) {
	keys, err := s.kv.Keys(ctx, matchPrefix)
	if err != nil {
		return nil, err
	}
	// keys sort ascending; walk from the end for newest-first
	var out []string
	for i := len(keys) - 1; i >= 0 && len(out) < n; i-- {
		v, ok, err := s.kv.Get(ctx, keys[i])
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, keys[i]+": "+v)
	}
	return out, nil
}

// WriteInvalid dumps a raw page body under a fresh offer-invalid key and
// returns the key.
func (s *SettingsStore) WriteInvalid(ctx context.Context, body string) (string, error) {
	key := invalidPrefix + s.now().UTC().Format(keyTimeFormat)
	if err := s.kv.Set(ctx, key, body); err != nil {
		return "", err
	}
	return key, nil
}

// InvalidKeys lists all offer-invalid keys, oldest first.
func (s *SettingsStore) InvalidKeys(ctx context.Context) ([]string, error) {
	return s.kv.Keys(ctx, invalidPrefix)
}

// ReadInvalid returns the stored body for one offer-invalid key.
func (s *SettingsStore) ReadInvalid(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, key)
}

// ClearInvalid deletes one offer-invalid key, or every one when key is empty.
// It returns how many keys were removed. Keys outside the offer-invalid
// namespace are rejected.
func (s *SettingsStore) ClearInvalid(ctx context.Context, key string) (int, error) {
	if key != "" {
		if !strings.HasPrefix(key, invalidPrefix) {
			return 0, fmt.Errorf("not an offer invalid key: %s", key)
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return 0, err
		}
		return 1, nil
	}
	keys, err := s.kv.Keys(ctx, invalidPrefix)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func parseCount(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
