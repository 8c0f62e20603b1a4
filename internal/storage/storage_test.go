package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "mailworker/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"file":   "history.jsonl",
		"sqlite": "history.db",
	}
	for driver, name := range cases {
		driver, name := driver, name
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", name)
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)

			recs, err := st.Recent(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, recs)

			base := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, st.Append(ctx, Record{
					At:        base.Add(time.Duration(i) * time.Minute),
					Kind:      KindTask,
					TriggerID: "main",
					JobName:   "SendToMyself",
					TaskID:    fmt.Sprintf("t%d", i),
					OK:        i%2 == 0,
					Error:     map[bool]string{true: "", false: "boom"}[i%2 == 0],
				}))
			}
			require.NoError(t, st.Append(ctx, Record{Kind: KindFire, JobName: "SendToMyself", Missed: 3, Next: base.Add(time.Hour)}))

			recs, err = st.Recent(ctx, 3)
			require.NoError(t, err)
			require.Len(t, recs, 3)
			assert.Equal(t, KindFire, recs[0].Kind)
			assert.Equal(t, 3, recs[0].Missed)
			assert.True(t, recs[0].Next.Equal(base.Add(time.Hour)))
			assert.False(t, recs[0].At.IsZero())

			assert.Equal(t, "t4", recs[1].TaskID)
			assert.True(t, recs[1].OK)
			assert.Equal(t, "t3", recs[2].TaskID)
			assert.False(t, recs[2].OK)
			assert.Equal(t, "boom", recs[2].Error)
			assert.True(t, recs[2].At.Equal(base.Add(3*time.Minute)))

			require.NoError(t, st.Close())

			// History survives a reopen.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()
			recs, err = st.Recent(ctx, 100)
			require.NoError(t, err)
			assert.Len(t, recs, 6)
		})
	}
}

func TestFileCompactKeepsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "h.jsonl")
	st, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	fs := st.(*fileStore)
	for i := 0; i < 20; i++ {
		require.NoError(t, st.Append(ctx, Record{Kind: KindTask, JobName: "j", TaskID: fmt.Sprint(i)}))
	}
	fs.mu.Lock()
	recs, err := readTail(path, 5)
	fs.mu.Unlock()
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "15", recs[0].TaskID)
	assert.Equal(t, "19", recs[4].TaskID)

	fs.mu.Lock()
	require.NoError(t, fs.compactLocked())
	fs.mu.Unlock()
	require.NoError(t, st.Append(ctx, Record{Kind: KindTask, JobName: "j", TaskID: "20"}))

	got, err := st.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20", got[0].TaskID)
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "./data/mailworker.db", DefaultPath("sqlite"))
	assert.Equal(t, "./data/mailworker.history.jsonl", DefaultPath("file"))
	assert.Empty(t, DefaultPath("none"))
}
