package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/scrapetrack/internal/models"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	seq := 0
	return NewMachine(arbor.NewLogger(), WithIDGenerator(func() string {
		seq++
		return fmt.Sprintf("job_%d", seq)
	}))
}

func TestMachine_InitialState(t *testing.T) {
	m := newTestMachine(t)

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseIdle, snap.Phase)
	assert.Empty(t, snap.JobID)
	assert.Empty(t, snap.LogLines)
	assert.Nil(t, snap.Result)
	assert.Empty(t, m.CurrentJobID())
}

func TestMachine_StartRejectsEmptyTarget(t *testing.T) {
	m := newTestMachine(t)

	for _, target := range []string{"", "   ", "\t\n"} {
		_, err := m.Start(target)
		assert.ErrorIs(t, err, ErrEmptyTarget)
	}
	assert.Equal(t, models.PhaseIdle, m.Snapshot().Phase)
}

func TestMachine_StartSetsStarting(t *testing.T) {
	m := newTestMachine(t)

	id, err := m.Start("  https://town.gov ")
	require.NoError(t, err)

	snap := m.Snapshot()
	assert.Equal(t, id, snap.JobID)
	assert.Equal(t, "https://town.gov", snap.Target)
	assert.Equal(t, models.PhaseStarting, snap.Phase)
	assert.Equal(t, models.DescriptionStarting, snap.Description)
	assert.False(t, snap.StartedAt.IsZero())
}

func TestMachine_TransitionsBeforeStart(t *testing.T) {
	m := newTestMachine(t)

	assert.ErrorIs(t, m.Advance("job_x", models.PhaseInProgress, ""), ErrNoJob)
	assert.ErrorIs(t, m.Fail("job_x", "boom"), ErrNoJob)
	assert.ErrorIs(t, m.Complete("job_x", nil, nil, ""), ErrNoJob)
	assert.False(t, m.AppendLog("job_x", "line"))
}

func TestMachine_LogLinesPreserveArrivalOrder(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	lines := []string{"one", "two", "", "three\nwith newline", "four"}
	for _, line := range lines {
		assert.True(t, m.AppendLog(id, line))
	}
	require.NoError(t, m.Advance(id, models.PhaseInProgress, ""))
	assert.True(t, m.AppendLog(id, "five"))

	assert.Equal(t, append(lines, "five"), m.Snapshot().LogLines)
}

func TestMachine_AppendLogAfterTerminalIsNoop(t *testing.T) {
	tests := []struct {
		name      string
		terminate func(m *Machine, id string) error
	}{
		{
			name: "complete",
			terminate: func(m *Machine, id string) error {
				return m.Complete(id, map[string]any{"k": "v"}, nil, "")
			},
		},
		{
			name: "fail",
			terminate: func(m *Machine, id string) error {
				return m.Fail(id, "failed")
			},
		},
		{
			name: "advance to failed",
			terminate: func(m *Machine, id string) error {
				return m.Advance(id, models.PhaseFailed, "failed")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			id, err := m.Start("https://example.com")
			require.NoError(t, err)
			require.True(t, m.AppendLog(id, "before"))
			require.NoError(t, tt.terminate(m, id))

			before := m.Snapshot()
			assert.False(t, m.AppendLog(id, "after"))
			after := m.Snapshot()

			assert.Equal(t, []string{"before"}, after.LogLines)
			assert.Equal(t, before.Version, after.Version)
		})
	}
}

func TestMachine_StartResetsEverything(t *testing.T) {
	m := newTestMachine(t)

	first, err := m.Start("https://a.example")
	require.NoError(t, err)
	m.AppendLog(first, "a1")
	require.NoError(t, m.Complete(first, map[string]any{"name": "A"}, map[string]string{"home": "a.png"}, "report-a"))

	second, err := m.Start("https://b.example")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseStarting, snap.Phase)
	assert.Empty(t, snap.LogLines)
	assert.Nil(t, snap.Result)
	assert.Nil(t, snap.Screenshots)
	assert.Empty(t, snap.ReportHandle)
	assert.Empty(t, snap.Error)
	assert.True(t, snap.FinishedAt.IsZero())

	m.AppendLog(second, "b1")
	require.NoError(t, m.Fail(second, "broken"))

	third, err := m.Start("https://c.example")
	require.NoError(t, err)
	snap = m.Snapshot()
	assert.Equal(t, third, snap.JobID)
	assert.Empty(t, snap.LogLines)
	assert.Empty(t, snap.Error)
}

func TestMachine_StaleIdentityNeverMutates(t *testing.T) {
	m := newTestMachine(t)

	stale, err := m.Start("https://a.example")
	require.NoError(t, err)
	current, err := m.Start("https://b.example")
	require.NoError(t, err)
	m.AppendLog(current, "b-line")

	before := m.Snapshot()

	assert.False(t, m.AppendLog(stale, "a-line"))
	assert.ErrorIs(t, m.Advance(stale, models.PhaseInProgress, ""), ErrStaleJob)
	assert.ErrorIs(t, m.Complete(stale, map[string]any{"name": "A"}, nil, "r"), ErrStaleJob)
	assert.ErrorIs(t, m.Fail(stale, "late"), ErrStaleJob)

	assert.Equal(t, before, m.Snapshot())
}

func TestMachine_AdvanceRules(t *testing.T) {
	tests := []struct {
		name    string
		setup   []models.Phase
		to      models.Phase
		wantErr error
		want    models.Phase
	}{
		{name: "starting to in progress", to: models.PhaseInProgress, want: models.PhaseInProgress},
		{name: "starting to finished skips a step", to: models.PhaseFinished, wantErr: ErrInvalidTransition, want: models.PhaseStarting},
		{name: "starting to starting", to: models.PhaseStarting, wantErr: ErrInvalidTransition, want: models.PhaseStarting},
		{name: "starting to idle", to: models.PhaseIdle, wantErr: ErrInvalidTransition, want: models.PhaseStarting},
		{name: "in progress to finished", setup: []models.Phase{models.PhaseInProgress}, to: models.PhaseFinished, want: models.PhaseFinished},
		{name: "in progress back to starting", setup: []models.Phase{models.PhaseInProgress}, to: models.PhaseStarting, wantErr: ErrInvalidTransition, want: models.PhaseInProgress},
		{name: "starting to failed", to: models.PhaseFailed, want: models.PhaseFailed},
		{name: "in progress to failed", setup: []models.Phase{models.PhaseInProgress}, to: models.PhaseFailed, want: models.PhaseFailed},
		{name: "finished to failed", setup: []models.Phase{models.PhaseInProgress, models.PhaseFinished}, to: models.PhaseFailed, wantErr: ErrTerminal, want: models.PhaseFinished},
		{name: "unknown phase", to: models.Phase("paused"), wantErr: ErrInvalidTransition, want: models.PhaseStarting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(t)
			id, err := m.Start("https://example.com")
			require.NoError(t, err)
			for _, p := range tt.setup {
				require.NoError(t, m.Advance(id, p, ""))
			}

			err = m.Advance(id, tt.to, "")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, m.Snapshot().Phase)
		})
	}
}

func TestMachine_AdvanceUnknownPhase(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)
	before := m.Snapshot().Version

	err = m.Advance(id, models.Phase("paused"), "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), `unknown phase "paused"`)
	assert.Equal(t, before, m.Snapshot().Version)
}

func TestMachine_AdvanceDescription(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	require.NoError(t, m.Advance(id, models.PhaseInProgress, ""))
	assert.Equal(t, models.DescriptionInProgress, m.Snapshot().Description)

	require.NoError(t, m.Advance(id, models.PhaseFinished, "All done"))
	snap := m.Snapshot()
	assert.Equal(t, "All done", snap.Description)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestMachine_CompleteFromTerminal(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)
	require.NoError(t, m.Fail(id, "first failure"))

	assert.ErrorIs(t, m.Complete(id, map[string]any{"k": 1}, nil, ""), ErrTerminal)
	assert.ErrorIs(t, m.Fail(id, "second failure"), ErrTerminal)

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, "first failure", snap.Error)
	assert.Nil(t, snap.Result)
}

func TestMachine_FailKeepsLogs(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)
	m.AppendLog(id, "connecting")

	require.NoError(t, m.Fail(id, ""))

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, models.DescriptionFailed, snap.Error)
	assert.Equal(t, []string{"connecting"}, snap.LogLines)
}

func TestMachine_CompleteIsSingleMutation(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	var seen []models.Snapshot
	unsubscribe := m.Subscribe(func(s models.Snapshot) {
		seen = append(seen, s)
	})
	defer unsubscribe()

	require.NoError(t, m.Complete(id, map[string]any{"name": "X"}, map[string]string{"home": "home.png"}, " r1 "))

	require.Len(t, seen, 1)
	assert.Equal(t, models.PhaseFinished, seen[0].Phase)
	assert.Equal(t, map[string]any{"name": "X"}, seen[0].Result)
	assert.Equal(t, map[string]string{"home": "home.png"}, seen[0].Screenshots)
	assert.Equal(t, "r1", seen[0].ReportHandle)
}

func TestMachine_CompleteWithoutArtifacts(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	require.NoError(t, m.Complete(id, nil, map[string]string{}, ""))

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.False(t, snap.HasResult())
	assert.Nil(t, snap.Screenshots)
	assert.False(t, snap.HasReport())
}

func TestMachine_SubscribersSeeMutationOrder(t *testing.T) {
	m := newTestMachine(t)

	var phases []models.Phase
	var versions []uint64
	m.Subscribe(func(s models.Snapshot) {
		phases = append(phases, s.Phase)
		versions = append(versions, s.Version)
	})

	id, err := m.Start("https://example.com")
	require.NoError(t, err)
	m.AppendLog(id, "line")
	require.NoError(t, m.Advance(id, models.PhaseInProgress, ""))
	require.NoError(t, m.Complete(id, nil, nil, ""))

	assert.Equal(t, []models.Phase{
		models.PhaseStarting,
		models.PhaseStarting,
		models.PhaseInProgress,
		models.PhaseFinished,
	}, phases)
	assert.IsIncreasing(t, versions)
}

func TestMachine_Unsubscribe(t *testing.T) {
	m := newTestMachine(t)

	calls := 0
	unsubscribe := m.Subscribe(func(models.Snapshot) { calls++ })
	_, err := m.Start("https://example.com")
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	_, err = m.Start("https://example.org")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestMachine_SnapshotsAreIsolated(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	result := map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}}
	require.NoError(t, m.Complete(id, result, nil, ""))

	result["nested"].(map[string]any)["k"] = "changed"
	snap := m.Snapshot()
	assert.Equal(t, "v", snap.Result["nested"].(map[string]any)["k"])

	snap.Result["list"].([]any)[0] = "mutated"
	snap.LogLines = append(snap.LogLines, "injected")
	again := m.Snapshot()
	assert.Equal(t, "a", again.Result["list"].([]any)[0])
	assert.Empty(t, again.LogLines)
}

func TestMachine_ConcurrentAppendsFromSingleReader(t *testing.T) {
	m := newTestMachine(t)
	id, err := m.Start("https://example.com")
	require.NoError(t, err)

	var want []string
	for i := 0; i < 200; i++ {
		want = append(want, fmt.Sprintf("line %d", i))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, line := range want {
			m.AppendLog(id, line)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = m.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, want, m.Snapshot().LogLines)
}

// Scenario: a successful job with streamed logs
func TestMachine_SuccessfulJobFlow(t *testing.T) {
	m := newTestMachine(t)

	id, err := m.Start("https://town.gov")
	require.NoError(t, err)
	require.NoError(t, m.Advance(id, models.PhaseInProgress, ""))
	assert.True(t, m.AppendLog(id, "init"))
	assert.True(t, m.AppendLog(id, "fetching page"))
	require.NoError(t, m.Complete(id, map[string]any{"name": "X"}, map[string]string{}, "r1"))

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseFinished, snap.Phase)
	assert.Equal(t, []string{"init", "fetching page"}, snap.LogLines)
	assert.Equal(t, map[string]any{"name": "X"}, snap.Result)
	assert.Equal(t, "r1", snap.ReportHandle)
	assert.Empty(t, snap.Error)
}

// Scenario: the submission fails
func TestMachine_FailedJobFlow(t *testing.T) {
	m := newTestMachine(t)

	id, err := m.Start("bad-url")
	require.NoError(t, err)
	require.NoError(t, m.Fail(id, "Error fetching data. Please try again."))

	snap := m.Snapshot()
	assert.Equal(t, models.PhaseFailed, snap.Phase)
	assert.Equal(t, "Error fetching data. Please try again.", snap.Error)
	assert.False(t, snap.HasResult())
}

// Scenario: a late response for a superseded job
func TestMachine_SupersededJobFlow(t *testing.T) {
	m := newTestMachine(t)

	jobA, err := m.Start("https://a.example")
	require.NoError(t, err)
	jobB, err := m.Start("https://b.example")
	require.NoError(t, err)
	require.NoError(t, m.Advance(jobB, models.PhaseInProgress, ""))
	m.AppendLog(jobB, "b running")

	err = m.Complete(jobA, map[string]any{"name": "A"}, nil, "report-a")
	assert.ErrorIs(t, err, ErrStaleJob)

	snap := m.Snapshot()
	assert.Equal(t, jobB, snap.JobID)
	assert.Equal(t, "https://b.example", snap.Target)
	assert.Equal(t, models.PhaseInProgress, snap.Phase)
	assert.Equal(t, []string{"b running"}, snap.LogLines)
	assert.Nil(t, snap.Result)
	assert.Empty(t, snap.ReportHandle)
}

func TestMachine_WithClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(arbor.NewLogger(), WithClock(func() time.Time { return fixed }))

	id, err := m.Start("https://example.com")
	require.NoError(t, err)
	require.NoError(t, m.Fail(id, "x"))

	snap := m.Snapshot()
	assert.Equal(t, fixed, snap.StartedAt)
	assert.Equal(t, fixed, snap.FinishedAt)
}
