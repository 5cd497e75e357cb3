package watch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"watchlb/internal/storage"
	kit "watchlb/internal/transport"
	logx "watchlb/pkg/logx"
)

type botFixture struct {
	disp     *Dispatcher
	engine   *Engine
	sched    *Scheduler
	settings *SettingsStore
	kv       storage.Store
	fetch    *fakeFetcher
	notify   *captureNotifier
	clock    *testClock
}

func newBotFixture(t *testing.T, body string) *botFixture {
	t.Helper()
	f := newEngineFixture(t, body)

	versionFile := filepath.Join(t.TempDir(), "git-head.txt")
	if err := os.WriteFile(versionFile, []byte("git: abc1234\n"), 0o644); err != nil {
		t.Fatalf("write version file: %v", err)
	}

	sched := NewScheduler(f.engine, f.notify, logx.Nop())
	t.Cleanup(func() { sched.Stop(context.Background()) })

	disp := NewDispatcher(f.settings, f.engine, sched, f.notify, versionFile, logx.Nop())
	disp.SetClock(f.clock.Now)
	return &botFixture{
		disp:     disp,
		engine:   f.engine,
		sched:    sched,
		settings: f.settings,
		kv:       f.kv,
		fetch:    f.fetch,
		notify:   f.notify,
		clock:    f.clock,
	}
}

func (f *botFixture) say(ctx context.Context, text string) {
	f.disp.Dispatch(ctx, &kit.Message{ChatID: 5, FromID: 5, Text: text})
}

func TestCommandStart(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/start")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Your chat id is 5" {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandList(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/list")
	want := "Current search terms:\n" + strings.Join(DefaultMatching(), "\n")
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v, want [%q]", got, want)
	}
}

func TestCommandListDefaultRestores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	if err := f.settings.Update(ctx, func(s *Settings) {
		s.Matching = []string{"only-this"}
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	f.say(ctx, "/list default")
	snap := f.settings.Snapshot()
	if len(snap.Matching) != len(defaultMatching) {
		t.Fatalf("Matching = %v", snap.Matching)
	}
	got := f.notify.texts()
	if len(got) != 1 || !strings.HasPrefix(got[0], "Current search terms:\n") {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandAdd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/add Merlot")

	snap := f.settings.Snapshot()
	if snap.Matching[len(snap.Matching)-1] != "merlot" {
		t.Fatalf("Matching = %v", snap.Matching)
	}
	if snap.LastMD5 == "" {
		// the cache was invalidated and the immediate check repopulated it
		t.Fatal("expected immediate check to run")
	}

	got := f.notify.texts()
	if len(got) != 1 || !strings.Contains(got[0], "merlot") {
		t.Fatalf("replies = %v", got)
	}
	// the page matches cabernet, so the triggered check reports it
	if html := f.notify.htmls(); len(html) != 1 {
		t.Fatalf("match messages = %v", html)
	}
}

func TestCommandAddDuplicate(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/add cabernet")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "cabernet is already a search term" {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/del cabernet")

	snap := f.settings.Snapshot()
	for _, term := range snap.Matching {
		if term == "cabernet" {
			t.Fatalf("cabernet still present: %v", snap.Matching)
		}
	}
	got := f.notify.texts()
	if len(got) < 1 || !strings.HasPrefix(got[0], "Current search terms:\n") {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandDeleteUnknownTerm(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/del pizza")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "pizza is not a search term" {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandNow(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/now")
	if f.fetch.callCount() != 1 {
		t.Fatalf("fetch count = %d", f.fetch.callCount())
	}
	if got := f.notify.htmls(); len(got) != 1 {
		t.Fatalf("match messages = %v", got)
	}
}

func TestCommandStatusNeverChecked(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/status")

	want := "Never checked\n" +
		"Current interval: 15 minutes\n" +
		"Service uptime: a few seconds\n" +
		"git: abc1234"
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v, want [%q]", got, want)
	}
}

func TestCommandStatusAfterCheck(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	checkedAt := f.clock.Now()
	f.engine.Check(ctx, false)
	f.notify.reset()

	f.clock.Advance(5 * time.Minute)
	f.say(ctx, "/status")

	want := "Last check at " + checkedAt.UTC().Format(time.RFC1123) + "\n" +
		"Last difference at " + checkedAt.UTC().Format(time.RFC1123) + " (a few seconds)\n" +
		"Last offer: (LB8212) Groth Oakville Cabernet Sauvignon Reserve 2015 $89\n" +
		"Last MD5: " + hashBody([]byte(goodPage)) + "\n" +
		"Current interval: 15 minutes\n" +
		"Service uptime: 5 minutes\n" +
		"git: abc1234"
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v\nwant [%q]", got, want)
	}
}

func TestCommandStatusMissingVersionFile(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.disp.versionFile = filepath.Join(t.TempDir(), "missing.txt")

	f.say(context.Background(), "/status")
	got := f.notify.texts()
	if len(got) != 1 || !strings.HasSuffix(got[0], "git: intermediate build") {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandUptick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/uptick 20")

	// the reconfigure check runs first, then the confirmation
	if f.fetch.callCount() != 1 {
		t.Fatalf("fetch count = %d", f.fetch.callCount())
	}
	if html := f.notify.htmls(); len(html) != 1 {
		t.Fatalf("match messages = %v", html)
	}
	got := f.notify.texts()
	if len(got) != 1 || got[0] != "Check interval changed to 20 minutes" {
		t.Fatalf("replies = %v", got)
	}
	if rate := f.settings.Snapshot().DefaultRate; rate != 20 {
		t.Fatalf("DefaultRate = %d", rate)
	}
}

func TestCommandUptickDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, quietPage)

	f.say(ctx, "/uptick default")
	got := f.notify.texts()
	if len(got) != 1 || got[0] != "Check interval changed to 15 minutes" {
		t.Fatalf("replies = %v", got)
	}
	if rate := f.settings.Snapshot().DefaultRate; rate != DefaultRate {
		t.Fatalf("DefaultRate = %d", rate)
	}
}

func TestCommandUptickInvalid(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/uptick bogus")
	want := "bogus is not a valid number.  Specify a number of minutes or duration (e.g. 1h) to change the check interval"
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v, want [%q]", got, want)
	}
	if f.fetch.callCount() != 0 {
		t.Fatal("invalid interval must not trigger a check")
	}
}

func TestCommandPauseForever(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/pause")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Pausing until forever" {
		t.Fatalf("replies = %v", got)
	}
	if kind := f.settings.Snapshot().PauseUntil.Kind; kind != PausedForever {
		t.Fatalf("PauseUntil = %v", kind)
	}

	f.notify.reset()
	f.say(ctx, "/status")
	got := f.notify.texts()
	if len(got) != 1 || !strings.Contains(got[0], "Paused until forever\n") {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandPauseUntil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/pause 30")
	until := f.clock.Now().Add(30 * time.Minute)
	want := "Pausing until " + until.UTC().Format(time.RFC1123)
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v, want [%q]", got, want)
	}
	snap := f.settings.Snapshot()
	if snap.PauseUntil.Kind != PausedUntil || !snap.PauseUntil.Until.Equal(until) {
		t.Fatalf("PauseUntil = %+v", snap.PauseUntil)
	}
}

func TestCommandPauseInvalid(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/pause whenever")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Unrecognized pause argument whenever" {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/pause")
	f.notify.reset()

	f.say(ctx, "/resume")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Resuming with check interval of 15 minutes" {
		t.Fatalf("replies = %v", got)
	}
	if kind := f.settings.Snapshot().PauseUntil.Kind; kind != Unpaused {
		t.Fatalf("PauseUntil = %v", kind)
	}
}

func TestCommandSettings(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/settings")
	got := f.notify.texts()
	if len(got) != 1 {
		t.Fatalf("replies = %v", got)
	}
	var s Settings
	if err := json.Unmarshal([]byte(got[0]), &s); err != nil {
		t.Fatalf("reply is not the settings document: %v\n%s", err, got[0])
	}
	if s.DefaultRate != DefaultRate {
		t.Fatalf("DefaultRate = %d", s.DefaultRate)
	}
}

func TestCommandRecent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/recent")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "No recent offer matches found" {
		t.Fatalf("replies = %v", got)
	}

	f.notify.reset()
	f.engine.Check(ctx, false)
	f.notify.reset()

	f.say(ctx, "/recent")
	got := f.notify.texts()
	if len(got) != 1 {
		t.Fatalf("replies = %v", got)
	}
	if !strings.HasPrefix(got[0], "offer-match-") || !strings.HasSuffix(got[0], "\n") {
		t.Fatalf("reply = %q", got[0])
	}
	if !strings.Contains(got[0], `"id":"LB8212"`) {
		t.Fatalf("reply = %q", got[0])
	}
}

func TestCommandRecentInvalidCount(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/recent nope")
	want := "nope is not a valid number.  Specify a number of offers to fetch"
	if got := f.notify.texts(); len(got) != 1 || got[0] != want {
		t.Fatalf("replies = %v, want [%q]", got, want)
	}
}

func TestCommandErrorDumps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, badPage)

	f.say(ctx, "/lserror")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "No errors found" {
		t.Fatalf("replies = %v", got)
	}
	f.notify.reset()

	// a failed check leaves a dump behind
	f.engine.Check(ctx, false)
	f.notify.reset()

	f.say(ctx, "/lserror")
	got := f.notify.texts()
	if len(got) != 1 || !strings.HasPrefix(got[0], "offer-invalid-") {
		t.Fatalf("replies = %v", got)
	}
	key := strings.TrimSpace(got[0])
	f.notify.reset()

	f.say(ctx, "/showerror "+key)
	got = f.notify.texts()
	if len(got) != 1 || got[0] != "Error "+key+"\n"+badPage {
		t.Fatalf("replies = %v", got)
	}
	f.notify.reset()

	f.say(ctx, "/clrerror "+key)
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Cleared "+key {
		t.Fatalf("replies = %v", got)
	}
	f.notify.reset()

	f.say(ctx, "/showerror "+key)
	if got := f.notify.texts(); len(got) != 1 || got[0] != "No value for "+key {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandClearAllErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, badPage)

	f.engine.Check(ctx, false)
	f.clock.Advance(time.Minute)
	f.engine.Check(ctx, true)
	f.notify.reset()

	f.say(ctx, "/clrerror")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Cleared all offer invalid keys" {
		t.Fatalf("replies = %v", got)
	}
	keys, err := f.settings.InvalidKeys(ctx)
	if err != nil || len(keys) != 0 {
		t.Fatalf("keys = %v, %v", keys, err)
	}
}

func TestCommandClearErrorRejectsForeignKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newBotFixture(t, goodPage)

	f.say(ctx, "/clrerror watch-lb-settings")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "watch-lb-settings is not an offer invalid key" {
		t.Fatalf("replies = %v", got)
	}
	if _, ok, err := f.kv.Get(ctx, "watch-lb-settings"); err != nil || !ok {
		t.Fatalf("settings document gone: ok=%v err=%v", ok, err)
	}
}

func TestCommandShowErrorRequiresKey(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/showerror")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Key required" {
		t.Fatalf("replies = %v", got)
	}
}

func TestCommandHelp(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/help")
	got := f.notify.texts()
	if len(got) != 1 || got[0] != helpText {
		t.Fatalf("replies = %v", got)
	}
	for _, cmd := range []string{"/start", "/list", "/status", "/add", "/del", "/now", "/uptick", "/pause", "/resume", "/settings", "/recent", "/lserror", "/showerror", "/clrerror", "/help"} {
		if !strings.Contains(got[0], cmd) {
			t.Fatalf("help missing %s", cmd)
		}
	}
}

func TestCommandUnknown(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "/fhqwhgads")
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Unknown command" {
		t.Fatalf("replies = %v", got)
	}
}

func TestDispatchIgnoresPlainText(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)
	f.say(context.Background(), "hello there")
	if got := f.notify.texts(); len(got) != 0 {
		t.Fatalf("replies = %v", got)
	}
}

func TestDispatchLoopSkipsEmptyUpdates(t *testing.T) {
	t.Parallel()
	f := newBotFixture(t, goodPage)

	// a nil message must not kill the loop
	in := make(chan kit.Update, 2)
	in <- kit.Update{}
	in <- kit.Update{Message: &kit.Message{ChatID: 5, Text: "/start"}}
	close(in)

	f.disp.DispatchLoop(context.Background(), in)
	if got := f.notify.texts(); len(got) != 1 || got[0] != "Your chat id is 5" {
		t.Fatalf("replies = %v", got)
	}
}
