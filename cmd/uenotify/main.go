package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uenotify/internal/app"
)

func main() {
	var (
		cfgPath string
		ov      app.Overrides
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (.json, .yaml, .yml, .toml)")
	flag.StringVar(&ov.ProjectPath, "project", "", "Unreal project directory (overrides project.path)")
	flag.StringVar(&ov.Handle, "handle", "", "Telegram username to notify (overrides telegram.handle)")
	flag.BoolVar(&once, "once", false, "run a single priming cycle (gate and recipient check, no sends) and exit; exit code 2 when the gate is closed")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, ov)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if once {
		res := a.RunOnce(ctx)
		_ = a.Stop(context.Background(), app.StopOnceDone)
		if code := app.OnceExitCode(res); code != 0 {
			os.Exit(code)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.ReasonAfterWait(ctx)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
