package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "emsctl/pkg/logx"
)

type TelegramConfig struct {
	Token     string
	ChatID    int64
	ThreadID  int
	OnSuccess bool
	// RatePerSec caps outgoing messages; <= 0 means 1.
	RatePerSec float64
	// Timeout bounds a single send, including the rate-limit wait.
	Timeout time.Duration
	// APIURL overrides the Bot API endpoint (tests).
	APIURL string
}

// Telegram sends run reports through the Bot API. Failures are always
// reported; successes only with OnSuccess.
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
	lim *rate.Limiter
	log logx.Logger
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	// Send-only: no poller, and Offline skips the getMe round trip.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		cfg: cfg,
		bot: b,
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log: log,
	}, nil
}

func (t *Telegram) NotifyRun(ctx context.Context, r Report) error {
	if r.OK() && !t.cfg.OnSuccess {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	if err := t.lim.Wait(ctx); err != nil {
		t.log.Warn("notify dropped (rate limited)", logx.String("run_id", r.RunID), logx.Err(err))
		return err
	}

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, FormatReport(r), &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              t.cfg.ThreadID,
		})
		done <- result{err: err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			t.log.Warn("notify send failed", logx.String("run_id", r.RunID), logx.Err(res.err))
			return res.err
		}
		t.log.Debug("notify sent", logx.String("run_id", r.RunID), logx.Bool("ok", r.OK()))
		return nil
	}
}

func (t *Telegram) Close() error { return nil }
