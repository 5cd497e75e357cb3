package notify

import (
	"context"
	"strings"
	"sync"
	"testing"

	kit "watchlb/internal/transport"
	logx "watchlb/pkg/logx"
	"watchlb/pkg/tgui"
)

type sentMessage struct {
	chat int64
	text string
	opt  kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := sentMessage{chat: to.ChatID, text: text}
	if opt != nil {
		m.opt = *opt
	}
	f.sent = append(f.sent, m)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func TestSendTargetsConfiguredChat(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{ChatID: 42}, ad, logx.Nop())

	if err := svc.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := ad.messages()
	if len(got) != 1 {
		t.Fatalf("messages = %v", got)
	}
	if got[0].chat != 42 || got[0].text != "hi" {
		t.Fatalf("message = %+v", got[0])
	}
	if got[0].opt.ParseMode != "" || !got[0].opt.DisablePreview {
		t.Fatalf("options = %+v", got[0].opt)
	}
}

func TestSendHTMLSetsParseMode(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{ChatID: 7}, ad, logx.Nop())

	if err := svc.SendHTML(context.Background(), "<b>x</b>"); err != nil {
		t.Fatalf("SendHTML: %v", err)
	}
	got := ad.messages()
	if len(got) != 1 || got[0].opt.ParseMode != "HTML" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestSendClampsOversizedText(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	svc := New(Config{ChatID: 1}, ad, logx.Nop())

	long := strings.Repeat("x", tgui.MaxMessageLen+500)
	if err := svc.Send(context.Background(), long); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := ad.messages()
	if len(got) != 1 {
		t.Fatalf("messages = %v", got)
	}
	if len(got[0].text) != tgui.MaxMessageLen {
		t.Fatalf("sent length = %d", len(got[0].text))
	}
	if !strings.HasSuffix(got[0].text, "...") {
		t.Fatal("clamp marker missing")
	}
}
