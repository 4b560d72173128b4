package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexanderramin/planwatch/internal/domain"
	"github.com/alexanderramin/planwatch/internal/notify"
)

const (
	defaultFailureThreshold = 3
	defaultFailureWindow    = time.Hour
)

// Monitor tracks consecutive job failures. When a job fails threshold
// times inside the window it is auto-paused and a critical notification
// goes to the ops fallback address. A successful run clears the counter;
// a paused job stays paused until Resume.
type Monitor struct {
	threshold int
	window    time.Duration
	notifier  notify.Notifier
	opsEmail  string
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state map[string]*jobState
}

type jobState struct {
	consecutive  int
	firstFailure time.Time
	paused       bool
}

func NewMonitor(threshold int, window time.Duration, notifier notify.Notifier, opsEmail string, logger *slog.Logger) *Monitor {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if window <= 0 {
		window = defaultFailureWindow
	}
	return &Monitor{
		threshold: threshold,
		window:    window,
		notifier:  notifier,
		opsEmail:  opsEmail,
		logger:    logger,
		now:       time.Now,
		state:     map[string]*jobState{},
	}
}

// WithClock is a test hook.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

func (m *Monitor) Paused(job string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state[job]
	return st != nil && st.paused
}

func (m *Monitor) RecordSuccess(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.state[job]; st != nil && !st.paused {
		delete(m.state, job)
	}
}

// RecordFailure bumps the job's consecutive-failure counter and pauses
// the job at the threshold. Returns true when this failure tripped the
// pause.
func (m *Monitor) RecordFailure(ctx context.Context, job string, cause error) bool {
	now := m.now()

	m.mu.Lock()
	st := m.state[job]
	if st != nil && st.paused {
		m.mu.Unlock()
		return false
	}
	if st == nil || now.Sub(st.firstFailure) > m.window {
		st = &jobState{firstFailure: now}
		m.state[job] = st
	}
	st.consecutive++
	tripped := st.consecutive >= m.threshold
	if tripped {
		st.paused = true
	}
	count := st.consecutive
	m.mu.Unlock()

	if !tripped {
		return false
	}

	m.logger.Error("job auto-paused after repeated failures",
		"job", job, "consecutive_failures", count, "error", cause)
	err := m.notifier.Send(ctx, notify.Message{
		To:      m.opsEmail,
		Subject: fmt.Sprintf("Scheduler job %q auto-paused", job),
		Body: fmt.Sprintf("Job %q failed %d consecutive times and was paused. Last error: %v. Resume it after fixing the cause.",
			job, count, cause),
		Urgency: domain.UrgencyCritical,
	})
	if err != nil {
		m.logger.Error("ops notification failed", "job", job, "error", err)
	}
	return true
}

// Resume unpauses a job and clears its counter.
func (m *Monitor) Resume(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, job)
}
