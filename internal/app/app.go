package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"uenotify/internal/config"
	"uenotify/internal/eventbus"
	"uenotify/internal/monitor"
	"uenotify/internal/runtime/supervisor"
	telegram "uenotify/internal/transport/telegram/adapter"
	logx "uenotify/pkg/logx"
)

// Overrides are command-line values that win over the config file, also
// across hot reloads.
type Overrides struct {
	ProjectPath string
	Handle      string
}

func (o Overrides) apply(cfg *config.Config) *config.Config {
	if cfg == nil {
		return nil
	}
	cp := *cfg
	if p := strings.TrimSpace(o.ProjectPath); p != "" {
		cp.Project.Path = p
	}
	if h := strings.TrimSpace(o.Handle); h != "" {
		cp.Telegram.Handle = h
	}
	return &cp
}

type App struct {
	cfgm *config.ConfigManager
	ov   Overrides
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  *eventbus.MemBus

	gw       *telegram.Adapter
	resolver *monitor.Resolver
	mon      *monitor.Service
	sd       *sdNotifier

	applied   atomic.Pointer[config.Settings]
	lastCycle atomic.Int64 // unix nanos
}

func New(cfgPath string, ov Overrides) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	raw, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	cfg := ov.apply(raw)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	st, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	tracked, err := monitor.ParseFlagNames(st.Flags)
	if err != nil {
		return nil, fmt.Errorf("monitor.flags: %w", err)
	}

	logSvc, log := logx.New(logConfig(cfg.Logging))
	bus := eventbus.New()

	gw, err := telegram.New(telegram.Config{
		Token:          st.Token,
		APIURL:         st.APIURL,
		RequestTimeout: st.RequestTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	resolver := monitor.NewResolver(gw, monitor.ResolverConfig{
		Timeout:  st.RequestTimeout,
		CacheTTL: st.CacheTTL,
	}, log.With(logx.String("comp", "resolver")))

	dispatcher := monitor.NewDispatcher(gw, monitor.DispatcherConfig{
		Timeout:    st.RequestTimeout,
		RatePerSec: st.SendRatePerSec,
	}, log.With(logx.String("comp", "dispatcher")), bus)

	mon := monitor.NewService(monitor.Config{
		ProjectPath: st.ProjectPath,
		Handle:      st.Handle,
		Interval:    st.Interval,
		Tracked:     tracked,
	}, resolver, dispatcher, log.With(logx.String("comp", "monitor")), bus)

	a := &App{
		cfgm:     cfgm,
		ov:       ov,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		gw:       gw,
		resolver: resolver,
		mon:      mon,
		sd:       newSDNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
	}
	a.applied.Store(&st)
	if w := mon.Status(); w.Project == monitor.Invalid {
		a.log.Warn(monitor.WarnNoDescriptor, logx.String("path", w.ProjectPath))
	}
	return a, nil
}

func (a *App) Monitor() *monitor.Service { return a.mon }

// Done is closed when the run context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce runs a single poll cycle without starting the scheduler.
func (a *App) RunOnce(ctx context.Context) monitor.TickResult {
	res := a.mon.RunOnce(ctx)
	st := a.mon.Status()
	a.log.Info("cycle done",
		logx.Bool("skipped", res.Skipped),
		logx.String("reason", res.Reason),
		logx.String("mask", res.State.String()),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.String("project", st.Project.String()),
		logx.String("recipient", st.Recipient.String()),
	)
	return res
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional reload: a config the runtime would reject is never published
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		c := a.ov.apply(cfg)
		if err := config.Validate(c); err != nil {
			return err
		}
		if _, err := monitor.ParseFlagNames(c.Monitor.Flags); err != nil {
			return fmt.Errorf("monitor.flags: %w", err)
		}
		return nil
	})

	a.mon.OnCycle(func(monitor.TickResult) { a.lastCycle.Store(time.Now().UnixNano()) })
	if err := a.mon.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if every := a.sd.watchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			a.sd.runWatchdog(c, every, a.lastCycleAt, a.staleAfter)
		})
	}

	// initial recipient check so the signal is not unknown until the first tick
	a.sup.Go0("recipient.check", func(c context.Context) {
		v := a.mon.CheckRecipient(c)
		if v == monitor.Invalid {
			a.log.Warn("recipient not resolvable yet; send the bot a message from the configured account",
				logx.String("handle", a.mon.Status().Handle))
		}
	})

	a.sd.Ready()
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) lastCycleAt() time.Time {
	n := a.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// staleAfter is how long without a completed cycle counts as a stall.
func (a *App) staleAfter() time.Duration {
	return 3*a.mon.Config().Interval + 2*a.applied.Load().RequestTimeout
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeStatusChanged:
		if st, ok := e.Data.(monitor.Status); ok {
			a.log.Info("status changed",
				logx.String("project", st.Project.String()),
				logx.String("project_name", st.ProjectName),
				logx.String("recipient", st.Recipient.String()),
				logx.String("handle", st.Handle),
			)
			return
		}
	case eventbus.TypeCycleCompleted:
		// per-tick; the monitor already logs at debug
		return
	}
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

// applyConfig fans a reloaded config out to the live components.
func (a *App) applyConfig(raw *config.Config) {
	cfg := a.ov.apply(raw)
	st, err := config.Resolve(cfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	tracked, err := monitor.ParseFlagNames(st.Flags)
	if err != nil {
		a.log.Warn("invalid monitor.flags; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(logConfig(cfg.Logging))

	prev := *a.applied.Load()
	if st.Token != prev.Token || st.APIURL != prev.APIURL || st.RequestTimeout != prev.RequestTimeout || st.SendRatePerSec != prev.SendRatePerSec {
		a.log.Warn("telegram or send rate settings changed; restart required for them to take effect")
	}
	if st.CacheTTL != prev.CacheTTL {
		a.resolver.SetCacheTTL(st.CacheTTL)
	}
	a.mon.Apply(monitor.Config{
		ProjectPath: st.ProjectPath,
		Handle:      st.Handle,
		Interval:    st.Interval,
		Tracked:     tracked,
	})
	if w := a.mon.Status(); w.Project == monitor.Invalid {
		a.log.Warn(monitor.WarnNoDescriptor, logx.String("path", w.ProjectPath))
	}
	a.applied.Store(&st)
	a.log.Info("config reloaded",
		logx.Duration("interval", st.Interval),
		logx.String("flags", tracked.String()),
		logx.Duration("cache_ttl", st.CacheTTL),
	)
}

// Stop shuts the app down in order: scheduler, background goroutines, logs.
// Each step is bounded so a stuck component cannot stall the exit.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// cancel first so in-flight gateway calls unwind
	a.sup.Cancel()

	a.step(ctx, "monitor", 3*time.Second, a.mon.Stop)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}

func logConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}
