package usecase

import (
	"cmp"
	"slices"

	"github.com/kirillkom/docflow/internal/core/domain"
)

type unitEvent struct {
	unitID int
	state  domain.UnitState
	report *domain.UnitReport
}

// batchTracker is the only owner of the batch aggregate. Unit workers send
// events; the tracker goroutine applies them one at a time, so counters are
// never mutated concurrently and progress callbacks are serialized.
type batchTracker struct {
	batchID  string
	total    int
	progress domain.ProgressFunc

	events chan unitEvent
	done   chan struct{}

	states    map[int]domain.UnitState
	reports   map[int]domain.UnitReport
	completed int
	succeeded int
	failed    int
}

func newBatchTracker(batchID string, units []domain.LogicalDocumentUnit, progress domain.ProgressFunc) *batchTracker {
	t := &batchTracker{
		batchID:  batchID,
		total:    len(units),
		progress: progress,
		events:   make(chan unitEvent, len(units)*4+1),
		done:     make(chan struct{}),
		states:   make(map[int]domain.UnitState, len(units)),
		reports:  make(map[int]domain.UnitReport, len(units)),
	}
	for _, unit := range units {
		t.states[unit.ID] = domain.UnitQueued
	}
	return t
}

func (t *batchTracker) start() {
	go t.run()
}

func (t *batchTracker) run() {
	defer close(t.done)
	t.emit()
	for ev := range t.events {
		if t.apply(ev) {
			t.emit()
		}
	}
}

// apply returns false for events that arrive after a unit already reached a
// terminal state; the first terminal state wins.
func (t *batchTracker) apply(ev unitEvent) bool {
	current, ok := t.states[ev.unitID]
	if !ok || current.Terminal() {
		return false
	}
	t.states[ev.unitID] = ev.state
	if !ev.state.Terminal() {
		return true
	}

	if ev.report != nil {
		report := *ev.report
		report.State = ev.state
		t.reports[ev.unitID] = report
	}
	t.completed++
	if ev.state == domain.UnitPersisted {
		t.succeeded++
	} else {
		t.failed++
	}
	return true
}

func (t *batchTracker) emit() {
	if t.progress == nil {
		return
	}
	states := make(map[domain.UnitState]int, len(t.states))
	for _, state := range t.states {
		states[state]++
	}
	t.progress(domain.Progress{
		BatchID:   t.batchID,
		Total:     t.total,
		Completed: t.completed,
		Succeeded: t.succeeded,
		Failed:    t.failed,
		Percent:   percent(t.completed, t.total),
		States:    states,
	})
}

func (t *batchTracker) transition(unitID int, state domain.UnitState) {
	t.events <- unitEvent{unitID: unitID, state: state}
}

func (t *batchTracker) finish(report domain.UnitReport) {
	t.events <- unitEvent{unitID: report.UnitID, state: report.State, report: &report}
}

// close stops intake and returns the unit reports ordered by unit id. It must
// be called once, after every worker has returned.
func (t *batchTracker) close() (units []domain.UnitReport, succeeded, failed int) {
	close(t.events)
	<-t.done

	units = make([]domain.UnitReport, 0, len(t.reports))
	for _, report := range t.reports {
		units = append(units, report)
	}
	slices.SortFunc(units, func(a, b domain.UnitReport) int {
		return cmp.Compare(a.UnitID, b.UnitID)
	})
	return units, t.succeeded, t.failed
}

func percent(completed, total int) float64 {
	if total <= 0 || completed >= total {
		return 100
	}
	return float64(completed) * 100 / float64(total)
}
