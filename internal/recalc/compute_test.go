package recalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/testutil"
)

func item(id, start, end string) Item {
	s := testutil.MustDate(start)
	e := testutil.MustDate(end)
	return Item{
		ID:           id,
		ExternalID:   id,
		Name:         id,
		DurationDays: int(e.Sub(s).Hours()/24) + 1,
		CurrentStart: s,
		CurrentEnd:   e,
		PlannedStart: s,
		PlannedEnd:   e,
	}
}

func edge(pred, succ string, typ domain.DependencyType, lag int) domain.Dependency {
	return domain.Dependency{PredecessorID: pred, SuccessorID: succ, Type: typ, LagDays: lag}
}

func schedule(t *testing.T, res *Result, id string) *ItemSchedule {
	t.Helper()
	sched, ok := res.Schedules[id]
	require.True(t, ok, "no schedule for %s", id)
	return sched
}

func TestCompute_FinishToStartPushesSuccessor(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-10")
	a.CurrentEnd = testutil.MustDate("2026-09-12") // slipped two days
	a.DurationDays = 12
	b := item("B", "2026-09-11", "2026-09-15")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToStart, 0)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-13"), sb.Start)
	assert.Equal(t, testutil.MustDate("2026-09-17"), sb.End)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, "B", res.Changes[0].ID)
	assert.Equal(t, testutil.MustDate("2026-09-11"), res.Changes[0].OldStart)
	assert.Equal(t, testutil.MustDate("2026-09-17"), res.Changes[0].NewEnd)
	assert.Equal(t, testutil.MustDate("2026-09-17"), res.ProjectEnd)
}

func TestCompute_FinishToStartLag(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-10")
	b := item("B", "2026-09-11", "2026-09-15")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToStart, 2)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-13"), sb.Start, "lag adds to the handoff gap")
	assert.Equal(t, testutil.MustDate("2026-09-17"), sb.End)
}

func TestCompute_StartToStart(t *testing.T) {
	a := item("A", "2026-09-05", "2026-09-10")
	b := item("B", "2026-09-01", "2026-09-03")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepStartToStart, 2)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-07"), sb.Start)
	assert.Equal(t, testutil.MustDate("2026-09-09"), sb.End)
}

func TestCompute_FinishToFinish(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-10")
	b := item("B", "2026-09-01", "2026-09-03")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToFinish, 0)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-10"), sb.End, "successor may not finish before its predecessor")
	assert.Equal(t, testutil.MustDate("2026-09-08"), sb.Start, "start derived from duration")
}

func TestCompute_StartToFinish(t *testing.T) {
	a := item("A", "2026-09-05", "2026-09-10")
	b := item("B", "2026-09-01", "2026-09-02")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepStartToFinish, 3)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-08"), sb.End)
	assert.Equal(t, testutil.MustDate("2026-09-07"), sb.Start)
}

func TestCompute_MonotonicForwardNeverPullsIn(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-02")
	b := item("B", "2026-09-20", "2026-09-22") // far later than the edge requires

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToStart, 0)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-20"), sb.Start)
	assert.Empty(t, res.Changes)
}

func TestCompute_CascadeThroughChain(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-10")
	a.CurrentEnd = testutil.MustDate("2026-09-15")
	a.DurationDays = 15
	b := item("B", "2026-09-11", "2026-09-15")
	c := item("C", "2026-09-16", "2026-09-20")

	res, err := Compute(Input{
		Items: []Item{a, b, c},
		Edges: []domain.Dependency{
			edge("A", "B", domain.DepFinishToStart, 0),
			edge("B", "C", domain.DepFinishToStart, 0),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, testutil.MustDate("2026-09-16"), schedule(t, res, "B").Start)
	assert.Equal(t, testutil.MustDate("2026-09-21"), schedule(t, res, "C").Start)
	assert.Len(t, res.Changes, 2)
	assert.Equal(t, testutil.MustDate("2026-09-25"), res.ProjectEnd)
}

func TestCompute_CriticalPathAndSlack(t *testing.T) {
	// A -> B is the driving chain; C joins B with a week to spare.
	a := item("A", "2026-09-01", "2026-09-10")
	b := item("B", "2026-09-11", "2026-09-15")
	c := item("C", "2026-09-01", "2026-09-03")

	res, err := Compute(Input{
		Items: []Item{a, b, c},
		Edges: []domain.Dependency{
			edge("A", "B", domain.DepFinishToStart, 0),
			edge("C", "B", domain.DepFinishToStart, 0),
		},
	})
	require.NoError(t, err)

	assert.True(t, schedule(t, res, "A").Critical)
	assert.True(t, schedule(t, res, "B").Critical)
	assert.False(t, schedule(t, res, "C").Critical)
	assert.Equal(t, 7, schedule(t, res, "C").SlackDays)

	assert.ElementsMatch(t, []string{"A", "B"}, res.CriticalPath)
	assert.Equal(t, 0, res.MinSlackDays)
	assert.Equal(t, 7, res.MaxSlackDays)
}

func TestCompute_CycleRefused(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-05")
	b := item("B", "2026-09-06", "2026-09-10")
	c := item("C", "2026-09-11", "2026-09-15")

	_, err := Compute(Input{
		Items: []Item{a, b, c},
		Edges: []domain.Dependency{
			edge("A", "B", domain.DepFinishToStart, 0),
			edge("B", "C", domain.DepFinishToStart, 0),
			edge("C", "A", domain.DepFinishToStart, 0),
		},
	})
	require.Error(t, err)

	var cyc *CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Len(t, cyc.Path, 4, "cycle path closes on its first node")
	assert.Equal(t, cyc.Path[0], cyc.Path[len(cyc.Path)-1])
}

func TestCompute_PlannedDatesAdoptedWhenNotStarted(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-08")
	a.PlannedStart = testutil.MustDate("2026-09-05")
	a.PlannedEnd = testutil.MustDate("2026-09-12")

	res, err := Compute(Input{Items: []Item{a}})
	require.NoError(t, err)

	sa := schedule(t, res, "A")
	assert.Equal(t, testutil.MustDate("2026-09-05"), sa.Start)
	assert.Equal(t, testutil.MustDate("2026-09-12"), sa.End)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, testutil.MustDate("2026-09-01"), res.Changes[0].OldStart)
}

func TestCompute_StartedItemKeepsItsStart(t *testing.T) {
	actual := testutil.MustDate("2026-09-01")
	a := item("A", "2026-09-01", "2026-09-08")
	a.ActualStart = &actual
	a.PlannedStart = testutil.MustDate("2026-09-05")
	a.PlannedEnd = testutil.MustDate("2026-09-12")

	res, err := Compute(Input{Items: []Item{a}})
	require.NoError(t, err)

	sa := schedule(t, res, "A")
	assert.Equal(t, testutil.MustDate("2026-09-01"), sa.Start, "started work never moves its start")
	assert.Equal(t, testutil.MustDate("2026-09-12"), sa.End, "the end may still extend")
}

func TestCompute_StartedSuccessorExtendsEndInstead(t *testing.T) {
	actual := testutil.MustDate("2026-09-11")
	a := item("A", "2026-09-01", "2026-09-10")
	a.CurrentEnd = testutil.MustDate("2026-09-14")
	a.DurationDays = 14
	b := item("B", "2026-09-11", "2026-09-15")
	b.ActualStart = &actual

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToStart, 0)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-11"), sb.Start)
	assert.Equal(t, testutil.MustDate("2026-09-19"), sb.End)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "already started")
}

func TestCompute_TerminalPredecessorStillConstrains(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-12")
	a.Terminal = true
	b := item("B", "2026-09-05", "2026-09-08")

	res, err := Compute(Input{
		Items: []Item{a, b},
		Edges: []domain.Dependency{edge("A", "B", domain.DepFinishToStart, 0)},
	})
	require.NoError(t, err)

	sb := schedule(t, res, "B")
	assert.Equal(t, testutil.MustDate("2026-09-13"), sb.Start)

	sa := schedule(t, res, "A")
	assert.Equal(t, testutil.MustDate("2026-09-01"), sa.Start, "terminal items never move")
	for _, ch := range res.Changes {
		assert.NotEqual(t, "A", ch.ID)
	}
}

func TestCompute_UnknownEdgeEndpointIsWarning(t *testing.T) {
	a := item("A", "2026-09-01", "2026-09-05")

	res, err := Compute(Input{
		Items: []Item{a},
		Edges: []domain.Dependency{edge("A", "GONE", domain.DepFinishToStart, 0)},
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "unknown successor")
}

func TestCompute_EmptyProgram(t *testing.T) {
	res, err := Compute(Input{})
	require.NoError(t, err)
	assert.Empty(t, res.Changes)
	assert.Zero(t, res.MinSlackDays)
	assert.True(t, res.ProjectEnd.IsZero())
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
}
