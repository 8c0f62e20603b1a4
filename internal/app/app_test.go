package app

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailworker/internal/eventbus"
	"mailworker/internal/mailer"
	"mailworker/internal/storage"
	"mailworker/internal/task/dispatch"
	"mailworker/internal/task/engine"
	"mailworker/internal/task/trigger"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (f *fakeSender) Send(_ context.Context, m mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) messages() []mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailer.Message(nil), f.sent...)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func noEnv() []string { return nil }

func TestAppRunImmediatelyAndReload(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.json")
	historyPath := filepath.Join(dir, "history.jsonl")
	writeConfig(t, cfgPath, `{
		"RunImmediately": true,
		"Email": "me@example.com",
		"EmailUsername": "me@example.com",
		"EmailPassword": "pw",
		"EmailSubject": "first",
		"Schedule": "daily:03:00",
		"LogLevel": "error",
		"StorageDriver": "file",
		"StoragePath": "`+filepath.ToSlash(historyPath)+`",
		"MetricsAddr": "127.0.0.1:0"
	}`)

	sender := &fakeSender{}
	a, err := New(cfgPath, WithEnviron(noEnv), WithSender(sender))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	msg := sender.messages()[0]
	assert.Equal(t, "me@example.com", msg.To)
	assert.Equal(t, "first", msg.Subject)

	tr, err := a.Dispatch().Lookup(MainTriggerID)
	require.NoError(t, err)
	assert.Equal(t, trigger.KindDaily, tr.Spec.Kind)
	assert.Equal(t, 3, tr.Spec.Hour)

	// Diagnostics endpoint serves the registry.
	require.Eventually(t, func() bool { return a.diag.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + a.diag.Addr() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), "mailworker_tasks_total")

	// Reload: new subject and schedule.
	writeConfig(t, cfgPath, `{
		"Email": "me@example.com",
		"EmailUsername": "me@example.com",
		"EmailPassword": "pw",
		"EmailSubject": "second",
		"Schedule": "cron:0 0 1 1 *",
		"LogLevel": "error",
		"StorageDriver": "file",
		"StoragePath": "`+filepath.ToSlash(historyPath)+`",
		"MetricsAddr": "127.0.0.1:0"
	}`)
	_, err = a.cfgm.Reload()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr, err := a.Dispatch().Lookup(MainTriggerID)
		return err == nil && tr.Spec.Kind == trigger.KindCron
	}, 5*time.Second, 10*time.Millisecond)
	def, err := a.Catalog().Lookup("SendToMyself")
	require.NoError(t, err)
	assert.Equal(t, "second", def.Payload.Get("EmailSubject"))

	// Manual run picks up the new payload.
	// The guard is released just after the first send returns.
	require.Eventually(t, func() bool { return a.Dispatch().TriggerNow("SendToMyself") == nil }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(sender.messages()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "second", sender.messages()[1].Subject)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	st, err := storage.Open(storage.Config{Driver: "file", Path: historyPath}, a.log)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.Recent(context.Background(), 50)
	require.NoError(t, err)
	var tasks int
	for _, r := range recs {
		if r.Kind == storage.KindTask {
			tasks++
			assert.True(t, r.OK)
			assert.Equal(t, "SendToMyself", r.JobName)
		}
	}
	assert.Equal(t, 2, tasks)
}

func TestIncompleteCredentialsRunAsNoOp(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.json")
	writeConfig(t, cfgPath, `{
		"Email": "me@example.com",
		"EmailPassword": "pw",
		"Schedule": "interval:30ms",
		"LogLevel": "error"
	}`)

	sender := &fakeSender{}
	a, err := New(cfgPath, WithEnviron(noEnv), WithSender(sender))
	require.NoError(t, err)
	events, unsub := a.bus.Subscribe(512)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	var finished, failed int
	require.Eventually(t, func() bool {
		for len(events) > 0 {
			ev := <-events
			switch ev.Type {
			case eventbus.TaskFinished:
				finished++
			case eventbus.TaskFailed:
				failed++
			}
		}
		return finished >= 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, failed)
	assert.Empty(t, sender.messages())
	tr, err := a.Dispatch().Lookup(MainTriggerID)
	require.NoError(t, err)
	assert.NotEqual(t, trigger.StateRetired, tr.State)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
}

func TestNewFailsOnBrokenConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "settings.json")
	writeConfig(t, cfgPath, `{"Email": `)
	_, err := New(cfgPath, WithEnviron(noEnv), WithSender(&fakeSender{}))
	assert.Error(t, err)
}

func TestToRecord(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	r, ok := toRecord(eventbus.Event{Type: eventbus.TriggerFired, Data: dispatch.TriggerEvent{ID: "main", JobName: "j", FiredAt: now, Missed: 2}})
	require.True(t, ok)
	assert.Equal(t, storage.KindFire, r.Kind)
	assert.Equal(t, 2, r.Missed)
	assert.True(t, r.OK)

	_, ok = toRecord(eventbus.Event{Type: eventbus.TriggerRetired, Data: dispatch.TriggerEvent{ID: "main"}})
	assert.False(t, ok)

	r, ok = toRecord(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{ID: "t1", Name: "j", Started: now, Duration: 1500 * time.Millisecond, Error: "boom"}})
	require.True(t, ok)
	assert.Equal(t, storage.KindTask, r.Kind)
	assert.False(t, r.OK)
	assert.Equal(t, int64(1500), r.DurationMS)
	assert.Equal(t, "boom", r.Error)

	r, ok = toRecord(eventbus.Event{Type: eventbus.TaskSkipped, Time: now, Data: engine.TaskEvent{Name: "j", Error: "overlap_skip"}})
	require.True(t, ok)
	assert.Equal(t, storage.KindSkipped, r.Kind)

	_, ok = toRecord(eventbus.Event{Type: eventbus.TaskStarted, Data: engine.TaskEvent{Name: "j"}})
	assert.False(t, ok)
	_, ok = toRecord(eventbus.Event{Type: eventbus.ConfigReloaded})
	assert.False(t, ok)
}
