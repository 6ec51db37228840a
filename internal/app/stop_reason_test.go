package app

import (
	"context"
	"testing"

	"uenotify/internal/monitor"
)

func TestReasonAfterWait(t *testing.T) {
	t.Parallel()
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		want StopReason
	}{
		{name: "signal received", ctx: cancelled, want: StopSignal},
		{name: "app failed on its own", ctx: live, want: StopFatalError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ReasonAfterWait(tt.ctx); got != tt.want {
				t.Fatalf("ReasonAfterWait = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOnceExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		res  monitor.TickResult
		want int
	}{
		{name: "priming cycle", res: monitor.TickResult{}, want: 0},
		{name: "gate closed", res: monitor.TickResult{Skipped: true, Reason: monitor.ReasonNoRecipient}, want: 2},
		{name: "send failures do not fail a run", res: monitor.TickResult{Failed: 1}, want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := OnceExitCode(tt.res); got != tt.want {
				t.Fatalf("OnceExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}
