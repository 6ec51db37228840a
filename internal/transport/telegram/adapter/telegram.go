package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	tele "gopkg.in/telebot.v4"

	kit "uenotify/internal/transport"
	logx "uenotify/pkg/logx"
)

const (
	defaultAPIURL  = "https://api.telegram.org"
	defaultTimeout = 5 * time.Second

	telegramTextLimit = 4000
	// getUpdates returns at most 100 records; this caps a misbehaving server.
	maxUpdatesBody = 4 << 20
)

type Config struct {
	Token          string
	APIURL         string
	RequestTimeout time.Duration
}

// Adapter talks to the Telegram Bot API. sendMessage goes through telebot;
// getUpdates is a plain GET so the raw envelope can be validated field by field.
type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	http *http.Client
}

var _ kit.Gateway = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}
	// Offline skips the getMe handshake; the daemon never starts telebot's poller
	// because the update feed is read by the chat resolver.
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  client,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b, http: client}, nil
}

func (a *Adapter) endpoint(method string) string {
	return a.cfg.APIURL + "/bot" + a.cfg.Token + "/" + method
}

// FetchUpdates issues GET getUpdates and returns every message update in the
// feed. Records may be incomplete; see kit.Update.Complete.
func (a *Adapter) FetchUpdates(ctx context.Context) ([]kit.Update, error) {
	q := url.Values{}
	q.Set("limit", "100")
	q.Set("allowed_updates", `["message"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", redactToken(err, a.cfg.Token))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpdatesBody))
	if err != nil {
		return nil, fmt.Errorf("getUpdates: read body: %w", err)
	}
	ups, err := decodeUpdates(body)
	if err != nil {
		return nil, fmt.Errorf("getUpdates (http=%d): %w", resp.StatusCode, err)
	}
	a.log.Debug("updates fetched", logx.Int("count", len(ups)))
	return ups, nil
}

type updatesEnvelope struct {
	OK          *bool        `json:"ok"`
	Result      *[]rawUpdate `json:"result"`
	ErrorCode   int          `json:"error_code"`
	Description string       `json:"description"`
}

type rawUpdate struct {
	UpdateID int64       `json:"update_id"`
	Message  *rawMessage `json:"message"`
}

type rawMessage struct {
	MessageID int `json:"message_id"`
	Chat      *struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From *struct {
		Username string `json:"username"`
	} `json:"from"`
}

func decodeUpdates(body []byte) ([]kit.Update, error) {
	var env updatesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", kit.ErrMalformedResponse, err)
	}
	if env.OK == nil {
		return nil, fmt.Errorf("%w: missing ok", kit.ErrMalformedResponse)
	}
	if !*env.OK {
		if env.Description != "" {
			return nil, fmt.Errorf("%w: %s (code=%d)", kit.ErrNotOK, env.Description, env.ErrorCode)
		}
		return nil, kit.ErrNotOK
	}
	if env.Result == nil {
		return nil, fmt.Errorf("%w: missing result", kit.ErrMalformedResponse)
	}

	out := make([]kit.Update, 0, len(*env.Result))
	for _, r := range *env.Result {
		up := kit.Update{ID: r.UpdateID}
		if m := r.Message; m != nil {
			up.MessageID = m.MessageID
			if m.Chat != nil {
				up.ChatID = m.Chat.ID
			}
			if m.From != nil {
				up.FromUsername = m.From.Username
			}
		}
		out = append(out, up)
	}
	return out, nil
}

// SendText issues a single sendMessage. Text longer than the Telegram limit is
// truncated rather than split so one notification stays one request.
//
// telebot's Send takes no context, so the call runs aside and ctx bounds the
// wait. An abandoned request is still cut off by the client timeout.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if to.ChatID == 0 {
		return kit.MessageRef{}, errors.New("sendMessage: chat id is zero")
	}

	type sendResult struct {
		msg *tele.Message
		err error
	}
	done := make(chan sendResult, 1)
	go func() {
		msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, truncate(text, telegramTextLimit), &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			DisableNotification:   opt.Silent,
		})
		done <- sendResult{msg: msg, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return kit.MessageRef{}, fmt.Errorf("sendMessage: %w", redactToken(r.err, a.cfg.Token))
		}
		ref := kit.MessageRef{ChatID: to.ChatID}
		if r.msg != nil {
			ref.MessageID = r.msg.ID
		}
		return ref, nil
	case <-ctx.Done():
		a.log.Debug("sendMessage abandoned", logx.Int64("chat_id", to.ChatID), logx.Err(ctx.Err()))
		return kit.MessageRef{}, fmt.Errorf("sendMessage: %w", ctx.Err())
	}
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-3]) + "..."
}

// redactToken strips the bot token from transport errors (net/http includes
// the request URL) so it never reaches the logs.
func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<token>"))
}
