package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"uenotify/internal/eventbus"
	kit "uenotify/internal/transport"
	logx "uenotify/pkg/logx"
)

var ErrNoChat = errors.New("notification has no chat")

// NotificationEvent is one rising edge addressed to a resolved chat.
type NotificationEvent struct {
	Flag    Flag
	Text    string
	Chat    ChatID
	Project string
}

// NotifyResult is the payload of notify.sent / notify.failed bus events.
type NotifyResult struct {
	Flag      string
	ChatID    int64
	MessageID int
	Error     string
	At        time.Time
}

type DispatcherConfig struct {
	// Timeout bounds the single sendMessage call.
	Timeout    time.Duration
	RatePerSec int
}

// Dispatcher sends each notification with exactly one gateway request.
// Failures are reported, never retried or queued.
type Dispatcher struct {
	sender  kit.Sender
	cfg     DispatcherConfig
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
}

func NewDispatcher(sender kit.Sender, cfg DispatcherConfig, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	// Burst covers one cycle where every flag rises; the limit only bites
	// on a log that flaps across cycles.
	burst := max(cfg.RatePerSec, AllFlags.Count())
	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst),
		log:     log,
		bus:     bus,
	}
}

func (d *Dispatcher) Send(ctx context.Context, ev NotificationEvent) error {
	if ev.Chat == 0 {
		return ErrNoChat
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	cctx := ctx
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	ref, err := d.sender.SendText(cctx, kit.ChatTarget{ChatID: int64(ev.Chat)}, ev.Text, &kit.SendOptions{DisablePreview: true})
	res := NotifyResult{Flag: ev.Flag.String(), ChatID: int64(ev.Chat), At: time.Now()}
	if err != nil {
		res.Error = err.Error()
		d.publish(eventbus.TypeNotifyFailed, res)
		d.log.Warn("notification failed", logx.String("flag", res.Flag), logx.Int64("chat_id", res.ChatID), logx.Err(err))
		return err
	}
	res.MessageID = ref.MessageID
	d.publish(eventbus.TypeNotifySent, res)
	d.log.Info("notification sent", logx.String("flag", res.Flag), logx.Int64("chat_id", res.ChatID), logx.String("project", ev.Project))
	return nil
}

func (d *Dispatcher) publish(typ string, res NotifyResult) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Time: res.At, Data: res})
}
