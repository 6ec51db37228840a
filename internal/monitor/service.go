package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"uenotify/internal/eventbus"
	logx "uenotify/pkg/logx"
)

const defaultInterval = 7 * time.Second

// Config is the hot-reloadable part of the service.
type Config struct {
	ProjectPath string
	Handle      string
	Interval    time.Duration
	// Tracked selects the flags that notify. Zero means every flag.
	Tracked Mask
}

func (c Config) normalize() Config {
	if p, err := ExpandPath(c.ProjectPath); err == nil {
		c.ProjectPath = p
	} else {
		c.ProjectPath = strings.TrimSpace(c.ProjectPath)
	}
	c.Handle = strings.TrimSpace(c.Handle)
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Tracked == 0 {
		c.Tracked = AllFlags
	}
	return c
}

// Service runs the poll cycle on a fixed interval: gate on a valid project
// and a resolvable recipient, parse the log, notify rising flags, then keep
// the parsed state for the next comparison.
type Service struct {
	resolver   *Resolver
	dispatcher *Dispatcher
	log        logx.Logger
	bus        eventbus.Bus
	now        func() time.Time

	// cycleMu serializes cycles; prev is only touched under it.
	cycleMu sync.Mutex
	prev    ParsedState

	mu        sync.Mutex
	cfg       Config
	resetPrev bool
	status    Status
	onCycle   func(TickResult)
	runCtx    context.Context
	c         *cron.Cron
	entry     cron.EntryID
}

func NewService(cfg Config, resolver *Resolver, dispatcher *Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.normalize()
	s := &Service{
		resolver:   resolver,
		dispatcher: dispatcher,
		log:        log,
		bus:        bus,
		now:        time.Now,
		cfg:        cfg,
	}
	v, name, lp := projectState(cfg.ProjectPath)
	s.status = Status{
		Project:     v,
		ProjectPath: cfg.ProjectPath,
		ProjectName: name,
		LogPath:     lp,
		Handle:      NormalizeHandle(cfg.Handle),
	}
	return s
}

// OnCycle registers a hook called after every cycle. Set it before Start.
func (s *Service) OnCycle(fn func(TickResult)) {
	s.mu.Lock()
	s.onCycle = fn
	s.mu.Unlock()
}

// Start schedules the cycle every Config.Interval until Stop. Cycles run
// with ctx; cancelling it aborts in-flight gateway calls.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.runCtx = ctx
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entry = s.c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.tick))
	s.c.Start()
	s.log.Info("monitor started",
		logx.Duration("interval", s.cfg.Interval),
		logx.String("project", s.cfg.ProjectPath),
		logx.String("flags", s.cfg.Tracked.String()),
	)
	return nil
}

// Stop stops scheduling and waits for a running cycle up to ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: %w", ctx.Err())
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.cycleMu.TryLock() {
		s.log.Debug("tick skipped", logx.String("reason", ReasonCycleInFlight))
		return
	}
	defer s.cycleMu.Unlock()
	s.cycle(ctx)
}

// RunOnce runs exactly one cycle, waiting for any cycle already in flight.
func (s *Service) RunOnce(ctx context.Context) TickResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.cycle(ctx)
}

// cycle must be called with cycleMu held.
func (s *Service) cycle(ctx context.Context) TickResult {
	s.mu.Lock()
	cfg := s.cfg
	if s.resetPrev {
		s.prev = ParsedState{}
		s.resetPrev = false
	}
	s.mu.Unlock()

	res := TickResult{At: s.now()}
	skip := func(reason string) TickResult {
		res.Skipped = true
		res.Reason = reason
		s.log.Debug("tick skipped", logx.String("reason", reason))
		s.finish(res, false)
		return res
	}

	if ctx.Err() != nil {
		return skip(ReasonCancelled)
	}

	pv, name, logPath := projectState(cfg.ProjectPath)
	s.updateStatus(func(st *Status) {
		st.Project, st.ProjectPath, st.ProjectName, st.LogPath = pv, cfg.ProjectPath, name, logPath
	})
	switch pv {
	case Unknown:
		return skip(ReasonNoProject)
	case Invalid:
		return skip(ReasonBadProject)
	}

	handle := NormalizeHandle(cfg.Handle)
	if handle == "" {
		s.updateStatus(func(st *Status) { st.Recipient, st.Handle, st.Chat = Unknown, "", 0 })
		return skip(ReasonNoRecipient)
	}
	chat, ok := s.resolver.Resolve(ctx, handle)
	if !ok {
		s.updateStatus(func(st *Status) { st.Recipient, st.Handle, st.Chat = Invalid, handle, 0 })
		return skip(ReasonUnresolved)
	}
	s.updateStatus(func(st *Status) { st.Recipient, st.Handle, st.Chat = Valid, handle, chat })

	cur := ParseFile(logPath)
	res.State = cur
	res.Rising = Rising(s.prev, cur, cfg.Tracked)
	for _, f := range res.Rising {
		err := s.dispatcher.Send(ctx, NotificationEvent{
			Flag:    f,
			Text:    f.Message(),
			Chat:    chat,
			Project: name,
		})
		if err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}
	s.prev = Observed(cur)

	s.log.Debug("tick",
		logx.String("mask", cur.String()),
		logx.Int("rising", len(res.Rising)),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
	)
	s.finish(res, true)
	return res
}

func (s *Service) finish(res TickResult, completed bool) {
	s.mu.Lock()
	s.status.LastTick = res.At
	s.status.Cycles++
	if completed {
		s.status.LastMask = res.State
		s.status.Primed = true
	}
	hook := s.onCycle
	s.mu.Unlock()

	s.publish(eventbus.TypeCycleCompleted, res)
	if hook != nil {
		hook(res)
	}
}

// SetProjectPath stores path and returns WarnNoDescriptor when it is set
// but holds no project descriptor. A new path restarts first-poll
// suppression.
func (s *Service) SetProjectPath(path string) string {
	p := Config{ProjectPath: path}.normalize().ProjectPath

	s.mu.Lock()
	if p != s.cfg.ProjectPath {
		s.cfg.ProjectPath = p
		s.resetPrev = true
	}
	s.mu.Unlock()

	v, name, lp := projectState(p)
	s.updateStatus(func(st *Status) {
		if st.ProjectPath != p {
			st.Primed = false
			st.LastMask = 0
		}
		st.Project, st.ProjectPath, st.ProjectName, st.LogPath = v, p, name, lp
	})
	if v == Invalid {
		s.log.Warn("invalid project path", logx.String("path", p))
		return WarnNoDescriptor
	}
	return ""
}

// SetRecipient stores the recipient handle. A different handle drops the
// resolved chat; validity stays unknown until the next resolution.
func (s *Service) SetRecipient(handle string) {
	h := strings.TrimSpace(handle)
	s.mu.Lock()
	changed := NormalizeHandle(h) != NormalizeHandle(s.cfg.Handle)
	s.cfg.Handle = h
	s.mu.Unlock()
	if !changed {
		return
	}
	if s.resolver != nil {
		s.resolver.Forget()
	}
	s.updateStatus(func(st *Status) { st.Recipient, st.Handle, st.Chat = Unknown, NormalizeHandle(h), 0 })
	s.log.Info("recipient changed", logx.String("handle", NormalizeHandle(h)))
}

// CheckRecipient resolves the current handle now and updates the signal.
func (s *Service) CheckRecipient(ctx context.Context) Validity {
	s.mu.Lock()
	handle := NormalizeHandle(s.cfg.Handle)
	s.mu.Unlock()
	if handle == "" || s.resolver == nil {
		return Unknown
	}
	chat, ok := s.resolver.Resolve(ctx, handle)
	v := Invalid
	if ok {
		v = Valid
	}
	s.updateStatus(func(st *Status) { st.Recipient, st.Handle, st.Chat = v, handle, chat })
	return v
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply updates the service from a reloaded config. An interval change
// re-registers the running schedule.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.normalize()

	s.mu.Lock()
	old := s.cfg
	s.cfg.Interval = cfg.Interval
	s.cfg.Tracked = cfg.Tracked
	if cfg.Interval != old.Interval && s.c != nil {
		s.c.Remove(s.entry)
		s.entry = s.c.Schedule(cron.Every(cfg.Interval), cron.FuncJob(s.tick))
		s.log.Info("interval changed", logx.Duration("from", old.Interval), logx.Duration("to", cfg.Interval))
	}
	s.mu.Unlock()

	if cfg.ProjectPath != old.ProjectPath {
		_ = s.SetProjectPath(cfg.ProjectPath)
	}
	if NormalizeHandle(cfg.Handle) != NormalizeHandle(old.Handle) {
		s.SetRecipient(cfg.Handle)
	}
}

func (s *Service) updateStatus(fn func(st *Status)) {
	s.mu.Lock()
	before := s.status
	fn(&s.status)
	after := s.status
	s.mu.Unlock()
	if before.signalsEqual(after) {
		return
	}
	s.log.Debug("status changed",
		logx.String("project", after.Project.String()),
		logx.String("recipient", after.Recipient.String()),
	)
	s.publish(eventbus.TypeStatusChanged, after)
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// projectState classifies a project path. An empty path is Unknown.
func projectState(path string) (Validity, string, string) {
	if path == "" {
		return Unknown, "", ""
	}
	name, ok := ProjectName(path)
	if !ok {
		return Invalid, "", ""
	}
	lp, err := LogPath(path)
	if err != nil {
		return Invalid, "", ""
	}
	return Valid, name, lp
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
