// Package notify delivers watcher output to the configured Telegram chat.
// All sends funnel through one rate limiter so a burst of replies cannot
// trip Telegram's flood control.
package notify

import (
	"context"

	"golang.org/x/time/rate"

	kit "watchlb/internal/transport"
	logx "watchlb/pkg/logx"
	"watchlb/pkg/tgui"
)

type Config struct {
	ChatID int64
	// RatePerSec caps outgoing messages per second. 0 means the default of 3.
	RatePerSec int
}

type Service struct {
	adapter kit.Adapter
	chat    kit.ChatTarget
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	return &Service{
		adapter: adapter,
		chat:    kit.ChatTarget{ChatID: cfg.ChatID},
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// Send delivers plain text to the chat.
func (s *Service) Send(ctx context.Context, text string) error {
	return s.send(ctx, text, &kit.SendOptions{DisablePreview: true})
}

// SendHTML delivers already-escaped HTML to the chat.
func (s *Service) SendHTML(ctx context.Context, html string) error {
	return s.send(ctx, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func (s *Service) send(ctx context.Context, text string, opt *kit.SendOptions) error {
	text = tgui.ClampMessage(text)
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := s.adapter.SendText(ctx, s.chat, text, opt); err != nil {
		s.log.Warn("send failed", logx.Err(err), logx.Int64("chat_id", s.chat.ChatID))
		return err
	}
	return nil
}
