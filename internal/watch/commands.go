package watch

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	kit "watchlb/internal/transport"
	logx "watchlb/pkg/logx"
)

const helpText = "Commands:\n" +
	"/start\n" +
	"/list [default]\n" +
	"/status\n" +
	"/add (term)\n" +
	"/del (term)\n" +
	"/now\n" +
	"/uptick (duration | default)\n" +
	"/pause [duration]\n" +
	"/resume\n" +
	"/settings\n" +
	"/recent [n]\n" +
	"/lserror\n" +
	"/showerror (key)\n" +
	"/clrerror [key]\n" +
	"/help"

type handlerFunc func(ctx context.Context, msg *kit.Message, args []string)

type binding struct {
	re     *regexp.Regexp
	handle handlerFunc
}

// Dispatcher routes inbound chat text to handlers. Patterns are tested in
// table order and exactly one handler fires; the catch-all sits last so it
// can never shadow a real command.
type Dispatcher struct {
	settings *SettingsStore
	engine   *Engine
	sched    *Scheduler
	notify   Notifier
	log      logx.Logger

	versionFile string
	startTime   time.Time
	now         func() time.Time

	table []binding
}

func NewDispatcher(settings *SettingsStore, engine *Engine, sched *Scheduler, notify Notifier, versionFile string, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		settings:    settings,
		engine:      engine,
		sched:       sched,
		notify:      notify,
		log:         log,
		versionFile: versionFile,
		startTime:   time.Now(),
		now:         time.Now,
	}
	d.table = []binding{
		{regexp.MustCompile(`^/start$`), d.handleStart},
		{regexp.MustCompile(`^/list$`), d.handleList},
		{regexp.MustCompile(`^/list default$`), d.handleListDefault},
		{regexp.MustCompile(`^/status$`), d.handleStatus},
		{regexp.MustCompile(`^/add (.+)$`), d.handleAdd},
		{regexp.MustCompile(`^/del (.+)$`), d.handleDelete},
		{regexp.MustCompile(`^/now$`), d.handleNow},
		{regexp.MustCompile(`^/uptick (.+)$`), d.handleUptick},
		{regexp.MustCompile(`^/pause$`), d.handlePauseForever},
		{regexp.MustCompile(`^/pause (.+)$`), d.handlePauseUntil},
		{regexp.MustCompile(`^/resume$`), d.handleResume},
		{regexp.MustCompile(`^/settings$`), d.handleSettings},
		{regexp.MustCompile(`^/recent(?: (.+))?$`), d.handleRecent},
		{regexp.MustCompile(`^/lserror$`), d.handleListErrors},
		{regexp.MustCompile(`^/showerror(?: (.+))?$`), d.handleShowError},
		{regexp.MustCompile(`^/clrerror(?: (.+))?$`), d.handleClearError},
		{regexp.MustCompile(`^/help$`), d.handleHelp},
		{regexp.MustCompile(`^/`), d.handleUnknown}, // keep last
	}
	return d
}

// SetClock overrides the time source and uptime origin. Tests only.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
	d.startTime = now()
}

// Dispatch routes one message. The first matching pattern wins.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	for _, b := range d.table {
		m := b.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		b.handle(ctx, msg, m[1:])
		return
	}
}

// DispatchLoop consumes updates until the channel closes or ctx ends.
// Handlers run on this single goroutine, so no two commands interleave.
func (d *Dispatcher) DispatchLoop(ctx context.Context, in <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-in:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			d.dispatchSafe(ctx, up.Message)
		}
	}
}

func (d *Dispatcher) dispatchSafe(ctx context.Context, msg *kit.Message) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panic", logx.Any("panic", r), logx.String("text", msg.Text))
		}
	}()
	d.Dispatch(ctx, msg)
}

func (d *Dispatcher) send(ctx context.Context, text string) {
	if err := d.notify.Send(ctx, text); err != nil {
		d.log.Warn("reply failed", logx.Err(err))
	}
}

func (d *Dispatcher) sendList(ctx context.Context) {
	snap := d.settings.Snapshot()
	d.send(ctx, "Current search terms:\n"+strings.Join(snap.Matching, "\n"))
}

func (d *Dispatcher) handleStart(ctx context.Context, msg *kit.Message, _ []string) {
	d.send(ctx, "Your chat id is "+strconv.FormatInt(msg.ChatID, 10))
}

func (d *Dispatcher) handleList(ctx context.Context, _ *kit.Message, _ []string) {
	d.sendList(ctx)
}

func (d *Dispatcher) handleListDefault(ctx context.Context, _ *kit.Message, _ []string) {
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.Matching = DefaultMatching()
	}); err != nil {
		d.log.Error("reset matching", logx.Err(err))
	}
	d.log.Info("restored default list")
	d.sendList(ctx)
}

func (d *Dispatcher) handleStatus(ctx context.Context, _ *kit.Message, _ []string) {
	snap := d.settings.Snapshot()
	var sb strings.Builder

	if snap.LastMD5Update == nil {
		sb.WriteString("Never checked\n")
	} else {
		sinceChange := time.Duration(0)
		checkedAt := snap.LastMD5Update.Time
		if snap.LastIntervalUpdate != nil {
			checkedAt = snap.LastIntervalUpdate.Time
			sinceChange = checkedAt.Sub(snap.LastMD5Update.Time)
		}
		sb.WriteString("Last check at " + fmtTime(checkedAt) + "\n")
		sb.WriteString("Last difference at " + fmtTime(snap.LastMD5Update.Time) + " (" + humanizeDuration(sinceChange) + ")\n")
		sb.WriteString("Last offer: (" + snap.LastOfferID + ") " + snap.LastOfferName + " $" + snap.LastOfferPrice + "\n")
		sb.WriteString("Last MD5: " + snap.LastMD5 + "\n")
	}

	sb.WriteString("Current interval: " + humanizeMinutes(snap.DefaultRate) + "\n")
	sb.WriteString("Service uptime: " + humanizeDuration(d.now().Sub(d.startTime)) + "\n")

	switch snap.PauseUntil.Kind {
	case PausedForever:
		sb.WriteString("Paused until forever\n")
	case PausedUntil:
		sb.WriteString("Paused until " + fmtTime(snap.PauseUntil.Until) + "\n")
	}

	sb.WriteString(d.version())
	d.send(ctx, sb.String())
}

// version reads the build marker file written at deploy time. Missing
// file degrades to a placeholder, never an error.
func (d *Dispatcher) version() string {
	path := d.versionFile
	if path == "" {
		path = "git-head.txt"
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "git: intermediate build"
	}
	return strings.TrimSpace(string(b))
}

func (d *Dispatcher) handleAdd(ctx context.Context, _ *kit.Message, args []string) {
	term := strings.ToLower(strings.TrimSpace(args[0]))
	snap := d.settings.Snapshot()
	for _, t := range snap.Matching {
		if t == term {
			d.send(ctx, term+" is already a search term")
			return
		}
	}
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.Matching = append(s.Matching, term)
		// invalidate the content cache so the next check re-evaluates
		s.LastMD5 = ""
		s.LastMD5Update = nil
	}); err != nil {
		d.log.Error("add term", logx.Err(err))
	}
	d.sendList(ctx)
	d.engine.Check(ctx, true)
}

func (d *Dispatcher) handleDelete(ctx context.Context, _ *kit.Message, args []string) {
	term := strings.ToLower(strings.TrimSpace(args[0]))
	snap := d.settings.Snapshot()
	found := false
	for _, t := range snap.Matching {
		if t == term {
			found = true
			break
		}
	}
	if !found {
		d.send(ctx, term+" is not a search term")
		return
	}
	if err := d.settings.Update(ctx, func(s *Settings) {
		out := s.Matching[:0]
		for _, t := range s.Matching {
			if t != term {
				out = append(out, t)
			}
		}
		s.Matching = out
		s.LastMD5 = ""
		s.LastMD5Update = nil
	}); err != nil {
		d.log.Error("delete term", logx.Err(err))
	}
	d.sendList(ctx)
	d.engine.Check(ctx, true)
}

func (d *Dispatcher) handleNow(ctx context.Context, _ *kit.Message, _ []string) {
	d.engine.Check(ctx, true)
}

func (d *Dispatcher) handleUptick(ctx context.Context, _ *kit.Message, args []string) {
	arg := strings.TrimSpace(args[0])
	minutes, ok := parseIntervalArg(arg)
	if !ok {
		d.send(ctx, arg+" is not a valid number.  Specify a number of minutes or duration (e.g. 1h) to change the check interval")
		return
	}
	// the immediate passive check runs before the new timer is armed
	d.sched.Reconfigure(ctx, minutes)
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.DefaultRate = minutes
	}); err != nil {
		d.log.Error("persist interval", logx.Err(err))
	}
	d.send(ctx, "Check interval changed to "+humanizeMinutes(minutes))
}

func (d *Dispatcher) handlePauseForever(ctx context.Context, _ *kit.Message, _ []string) {
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.PauseUntil = Pause{Kind: PausedForever}
	}); err != nil {
		d.log.Error("persist pause", logx.Err(err))
	}
	d.send(ctx, "Pausing until forever")
}

func (d *Dispatcher) handlePauseUntil(ctx context.Context, _ *kit.Message, args []string) {
	arg := strings.TrimSpace(args[0])
	until, ok := parsePauseArg(arg, d.now())
	if !ok {
		d.send(ctx, "Unrecognized pause argument "+arg)
		return
	}
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.PauseUntil = PauseFor(until)
	}); err != nil {
		d.log.Error("persist pause", logx.Err(err))
	}
	d.send(ctx, "Pausing until "+fmtTime(until))
}

func (d *Dispatcher) handleResume(ctx context.Context, _ *kit.Message, _ []string) {
	if err := d.settings.Update(ctx, func(s *Settings) {
		s.PauseUntil = Pause{Kind: Unpaused}
	}); err != nil {
		d.log.Error("persist resume", logx.Err(err))
	}
	snap := d.settings.Snapshot()
	d.send(ctx, "Resuming with check interval of "+humanizeMinutes(snap.DefaultRate))
}

func (d *Dispatcher) handleSettings(ctx context.Context, _ *kit.Message, _ []string) {
	dump, err := d.settings.Dump()
	if err != nil {
		d.log.Error("dump settings", logx.Err(err))
		return
	}
	d.send(ctx, dump)
}

func (d *Dispatcher) handleRecent(ctx context.Context, _ *kit.Message, args []string) {
	n := 10
	if arg := strings.TrimSpace(args[0]); arg != "" {
		parsed, ok := parseCount(arg)
		if !ok {
			d.send(ctx, arg+" is not a valid number.  Specify a number of offers to fetch")
			return
		}
		n = parsed
	}
	entries, err := d.settings.RecentMatches(ctx, n)
	if err != nil {
		d.log.Error("list recent matches", logx.Err(err))
		return
	}
	if len(entries) == 0 {
		d.send(ctx, "No recent offer matches found")
		return
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e)
		sb.WriteString("\n")
	}
	d.send(ctx, sb.String())
}

func (d *Dispatcher) handleListErrors(ctx context.Context, _ *kit.Message, _ []string) {
	keys, err := d.settings.InvalidKeys(ctx)
	if err != nil {
		d.log.Error("list invalid keys", logx.Err(err))
		return
	}
	if len(keys) == 0 {
		d.send(ctx, "No errors found")
		return
	}
	d.send(ctx, strings.Join(keys, "\n"))
}

func (d *Dispatcher) handleShowError(ctx context.Context, _ *kit.Message, args []string) {
	key := strings.TrimSpace(args[0])
	if key == "" {
		d.send(ctx, "Key required")
		return
	}
	body, ok, err := d.settings.ReadInvalid(ctx, key)
	if err != nil {
		d.log.Error("read invalid dump", logx.Err(err))
		return
	}
	if !ok {
		d.send(ctx, "No value for "+key)
		return
	}
	d.send(ctx, "Error "+key+"\n"+body)
}

func (d *Dispatcher) handleClearError(ctx context.Context, _ *kit.Message, args []string) {
	key := strings.TrimSpace(args[0])
	// only error dumps are deletable from chat
	if key != "" && !strings.HasPrefix(key, invalidPrefix) {
		d.send(ctx, key+" is not an offer invalid key")
		return
	}
	if _, err := d.settings.ClearInvalid(ctx, key); err != nil {
		d.log.Error("clear invalid dumps", logx.Err(err))
		return
	}
	if key != "" {
		d.send(ctx, "Cleared "+key)
		return
	}
	d.send(ctx, "Cleared all offer invalid keys")
}

func (d *Dispatcher) handleHelp(ctx context.Context, _ *kit.Message, _ []string) {
	d.send(ctx, helpText)
}

func (d *Dispatcher) handleUnknown(ctx context.Context, _ *kit.Message, _ []string) {
	d.send(ctx, "Unknown command")
}
