package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	kit "uenotify/internal/transport"
)

type fakeFeed struct {
	mu    sync.Mutex
	ups   []kit.Update
	err   error
	calls int
}

func (f *fakeFeed) FetchUpdates(ctx context.Context) ([]kit.Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]kit.Update(nil), f.ups...), nil
}

func (f *fakeFeed) set(ups []kit.Update, err error) {
	f.mu.Lock()
	f.ups, f.err = ups, err
	f.mu.Unlock()
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type sentMsg struct {
	chat int64
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	err   error
	calls int
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, sentMsg{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Sent() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.sent...)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fromUser(id int64, chat int64, user string) kit.Update {
	return kit.Update{ID: id, MessageID: int(id), ChatID: chat, FromUsername: user}
}

// newProject creates <tmp>/<name>.uproject and the Saved/Logs directory and
// returns the project dir and the log path.
func newProject(t *testing.T, name string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, name+".uproject"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	logs := filepath.Join(dir, "Saved", "Logs")
	if err := os.MkdirAll(logs, 0o755); err != nil {
		t.Fatalf("mkdir logs: %v", err)
	}
	return dir, filepath.Join(logs, name+".log")
}

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	var b []byte
	for _, l := range lines {
		b = append(b, l...)
		b = append(b, '\n')
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func marker(f Flag) string {
	d, _ := lookup(f)
	return d.Marker
}

func removeFile(path string) error { return os.Remove(path) }

func mustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	return wd
}
