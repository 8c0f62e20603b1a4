package trigger

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDailyScenario(t *testing.T) {
	t.Parallel()
	spec, err := Daily(9, 0, time.UTC)
	require.NoError(t, err)

	tests := []struct {
		now  string
		want string
	}{
		{"2026-03-10T08:00:00Z", "2026-03-10T09:00:00Z"},
		{"2026-03-10T10:00:00Z", "2026-03-11T09:00:00Z"},
		{"2026-03-10T09:00:00Z", "2026-03-11T09:00:00Z"},
		{"2026-12-31T23:59:00Z", "2027-01-01T09:00:00Z"},
	}
	for _, tc := range tests {
		got, err := ComputeNextFireTime(spec, mustTime(t, tc.now))
		require.NoError(t, err)
		assert.Equal(t, mustTime(t, tc.want), got, "now=%s", tc.now)
	}
}

func TestDailyFirstFireIsInclusive(t *testing.T) {
	t.Parallel()
	spec, _ := Daily(9, 0, nil)
	got, err := FirstFireTime(spec, mustTime(t, "2026-03-10T09:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-10T09:00:00Z"), got)
}

func TestDailyTimezone(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	spec, err := Daily(9, 0, loc)
	require.NoError(t, err)

	// 01:30Z is 08:30 in Jakarta (UTC+7), so 09:00 local is 02:00Z the same day.
	got, err := ComputeNextFireTime(spec, mustTime(t, "2026-03-10T01:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-10T02:00:00Z"), got)
	assert.Equal(t, time.UTC, got.Location())

	// Same instant expressed in another zone yields the same answer.
	again, err := ComputeNextFireTime(spec, mustTime(t, "2026-03-10T01:30:00Z").In(loc))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestDailyAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	spec, _ := Daily(9, 0, loc)
	// DST starts 2026-03-08; 09:00 EST is 14:00Z, 09:00 EDT is 13:00Z.
	got, err := ComputeNextFireTime(spec, mustTime(t, "2026-03-07T14:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-08T13:00:00Z"), got)
}

func TestIntervalNextIsExact(t *testing.T) {
	t.Parallel()
	for _, every := range []time.Duration{time.Second, 90 * time.Second, 10 * time.Minute, 25 * time.Hour} {
		spec, err := Interval(every, time.Time{})
		require.NoError(t, err)
		fire := mustTime(t, "2026-03-10T08:00:00Z")
		for i := 0; i < 5; i++ {
			next, err := ComputeNextFireTime(spec, fire)
			require.NoError(t, err)
			assert.Equal(t, fire.Add(every), next)
			fire = next
		}
	}
}

func TestIntervalFirstFire(t *testing.T) {
	t.Parallel()
	created := mustTime(t, "2026-03-10T08:00:00Z")

	spec, _ := Interval(time.Minute, time.Time{})
	got, _ := FirstFireTime(spec, created)
	assert.Equal(t, created, got)

	later := created.Add(time.Hour)
	spec, _ = Interval(time.Minute, later)
	got, _ = FirstFireTime(spec, created)
	assert.Equal(t, later, got)

	earlier := created.Add(-90 * time.Second)
	spec, _ = Interval(time.Minute, earlier)
	got, _ = FirstFireTime(spec, created)
	assert.Equal(t, earlier.Add(2*time.Minute), got)
}

func TestOnce(t *testing.T) {
	t.Parallel()
	now := mustTime(t, "2026-03-10T08:00:00Z")

	spec, _ := Once(time.Time{})
	first, _ := FirstFireTime(spec, now)
	assert.Equal(t, now, first)
	next, _ := ComputeNextFireTime(spec, first)
	assert.True(t, next.IsZero())

	past, _ := Once(now.Add(-time.Hour))
	first, _ = FirstFireTime(past, now)
	assert.Equal(t, now, first)

	future, _ := Once(now.Add(time.Hour))
	first, _ = FirstFireTime(future, now)
	assert.Equal(t, now.Add(time.Hour), first)
	next, _ = ComputeNextFireTime(future, first)
	assert.True(t, next.IsZero())
}

func TestCron(t *testing.T) {
	t.Parallel()
	spec, err := Cron("30 9 * * *", time.UTC)
	require.NoError(t, err)
	got, err := ComputeNextFireTime(spec, mustTime(t, "2026-03-10T09:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-11T09:30:00Z"), got)

	first, err := FirstFireTime(spec, mustTime(t, "2026-03-10T09:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2026-03-10T09:30:00Z"), first)
}

func TestInvalidSpecs(t *testing.T) {
	t.Parallel()
	_, err := Interval(0, time.Time{})
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
	_, err = Daily(24, 0, nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
	_, err = Daily(9, 60, nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
	_, err = Cron("not a cron", nil)
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = ComputeNextFireTime(Spec{}, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidSchedule))
}

func TestCatchUpFiresOnceThenResumes(t *testing.T) {
	t.Parallel()
	spec, _ := Interval(time.Minute, time.Time{})
	due := mustTime(t, "2026-03-10T08:00:00Z")

	// On time: no misses.
	next, missed, err := CatchUp(spec, due, due)
	require.NoError(t, err)
	assert.Equal(t, 0, missed)
	assert.Equal(t, due.Add(time.Minute), next)

	// Down for 10.5 minutes: the late fire covers the backlog, cadence resumes on the grid.
	now := due.Add(10*time.Minute + 30*time.Second)
	next, missed, err = CatchUp(spec, due, now)
	require.NoError(t, err)
	assert.Equal(t, 10, missed)
	assert.Equal(t, due.Add(11*time.Minute), next)
	assert.True(t, next.After(now))
}

func TestCatchUpDaily(t *testing.T) {
	t.Parallel()
	spec, _ := Daily(9, 0, time.UTC)
	due := mustTime(t, "2026-03-10T09:00:00Z")
	now := mustTime(t, "2026-03-13T12:00:00Z")

	next, missed, err := CatchUp(spec, due, now)
	require.NoError(t, err)
	assert.Equal(t, 3, missed)
	assert.Equal(t, mustTime(t, "2026-03-14T09:00:00Z"), next)
}

func TestCatchUpLongDowntimeCountsWholeBacklog(t *testing.T) {
	t.Parallel()
	spec, err := Cron("@every 1s", time.UTC)
	require.NoError(t, err)
	due := mustTime(t, "2020-01-01T00:00:00Z")
	now := due.Add(6 * 365 * 24 * time.Hour)

	next, missed, err := CatchUp(spec, due, now)
	require.NoError(t, err)
	assert.Equal(t, int(now.Sub(due)/time.Second), missed)
	assert.Equal(t, now.Add(time.Second), next)
}

func TestEngineNewAndFired(t *testing.T) {
	t.Parallel()
	jobs := staticJobs{"SendToMyself": true}
	eng := NewEngine(jobs)
	now := mustTime(t, "2026-03-10T08:00:00Z")

	_, err := eng.New("Other", "", Spec{Kind: KindOnce}, now)
	assert.True(t, errors.Is(err, ErrUnknownJob))

	spec, _ := Daily(9, 0, time.UTC)
	tr, err := eng.New("SendToMyself", "", spec, now)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, StateScheduled, tr.State)
	assert.Equal(t, mustTime(t, "2026-03-10T09:00:00Z"), tr.NextFireTime)

	missed, err := tr.Fired(tr.NextFireTime, true)
	require.NoError(t, err)
	assert.Equal(t, 0, missed)
	assert.Equal(t, 1, tr.Fires)
	assert.Equal(t, mustTime(t, "2026-03-11T09:00:00Z"), tr.NextFireTime)

	// A refused hand-off still advances the cadence but is not a fire.
	firedAt := tr.PrevFireTime
	_, err = tr.Fired(tr.NextFireTime, false)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Fires)
	assert.Equal(t, 1, tr.Skipped)
	assert.Equal(t, firedAt, tr.PrevFireTime)
	assert.Equal(t, mustTime(t, "2026-03-12T09:00:00Z"), tr.NextFireTime)

	once, _ := Once(time.Time{})
	ot, err := eng.New("SendToMyself", "one", once, now)
	require.NoError(t, err)
	_, err = ot.Fired(now, true)
	require.NoError(t, err)
	assert.Equal(t, StateRetired, ot.State)
}

func TestUpcoming(t *testing.T) {
	t.Parallel()
	spec, _ := Daily(9, 0, time.UTC)
	got, err := Upcoming(spec, mustTime(t, "2026-03-10T10:00:00Z"), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, mustTime(t, "2026-03-13T09:00:00Z"), got[2])
}

type staticJobs map[string]bool

func (s staticJobs) Has(name string) bool { return s[name] }
