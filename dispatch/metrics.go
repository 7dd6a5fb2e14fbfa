package dispatch

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lawline/dispatch-api/models"
)

// MetricsSink receives dispatch transitions. Implementations must not block;
// the engine calls these inline on the dispatch path.
type MetricsSink interface {
	RecordCreated(call *models.EmergencyCall)
	RecordTransition(call *models.EmergencyCall, from, to models.CallStatus, at time.Time)
	RecordEscalated(call *models.EmergencyCall)
}

type metricsEvent struct {
	call      *models.EmergencyCall
	from, to  models.CallStatus
	at        time.Time
	created   bool
	escalated bool
}

type timedSample struct {
	at  time.Time
	dur time.Duration
}

// Aggregator derives the stats endpoint payload from dispatch transitions.
// Events arrive through a buffered channel and are applied by a single
// goroutine, so stats lag dispatch by at most the channel drain time.
// Readers are documented to tolerate that.
type Aggregator struct {
	mu sync.RWMutex

	pendingNow  int
	assignedNow int
	activeNow   int
	escalated   map[string]struct{}

	completedToday int
	cancelledToday int

	window      time.Duration
	respSamples []timedSample
	waitSamples []timedSample

	events chan metricsEvent
	cron   *cron.Cron
	done   chan struct{}
}

// NewAggregator builds and starts a metrics aggregator. window bounds the
// sliding average for response and wait times. Daily counters roll over at
// UTC midnight.
func NewAggregator(window time.Duration) *Aggregator {
	a := &Aggregator{
		escalated: make(map[string]struct{}),
		window:    window,
		events:    make(chan metricsEvent, 256),
		cron:      cron.New(cron.WithLocation(time.UTC)),
		done:      make(chan struct{}),
	}

	if _, err := a.cron.AddFunc("0 0 * * *", a.rollover); err != nil {
		zap.S().Errorw("failed to register metrics rollover job", "error", err)
	}
	a.cron.Start()

	go a.drain()
	return a
}

// Stop shuts down the aggregator's cron and drain goroutine.
func (a *Aggregator) Stop() {
	<-a.cron.Stop().Done()
	close(a.done)
}

// RecordCreated records a freshly persisted pending call.
func (a *Aggregator) RecordCreated(call *models.EmergencyCall) {
	a.enqueue(metricsEvent{call: call, created: true, at: call.CreatedAt})
}

// RecordTransition records one status transition.
func (a *Aggregator) RecordTransition(call *models.EmergencyCall, from, to models.CallStatus, at time.Time) {
	a.enqueue(metricsEvent{call: call, from: from, to: to, at: at})
}

// RecordEscalated records that a pending call ran out of attempts.
func (a *Aggregator) RecordEscalated(call *models.EmergencyCall) {
	a.enqueue(metricsEvent{call: call, escalated: true, at: time.Now().UTC()})
}

func (a *Aggregator) enqueue(e metricsEvent) {
	select {
	case a.events <- e:
	default:
		// Stats are advisory; dropping one event beats blocking dispatch.
		zap.S().Warn("metrics event buffer full, dropping event")
	}
}

func (a *Aggregator) drain() {
	for {
		select {
		case e := <-a.events:
			a.apply(e)
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) apply(e metricsEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case e.created:
		a.pendingNow++
		return
	case e.escalated:
		a.escalated[e.call.ID.Hex()] = struct{}{}
		return
	}

	switch e.from {
	case models.CallPending:
		a.pendingNow--
	case models.CallAssigned:
		a.assignedNow--
	case models.CallActive:
		a.activeNow--
	}

	switch e.to {
	case models.CallPending:
		a.pendingNow++
	case models.CallAssigned:
		a.assignedNow++
		delete(a.escalated, e.call.ID.Hex())
		a.waitSamples = append(a.waitSamples, timedSample{at: e.at, dur: e.at.Sub(e.call.CreatedAt)})
	case models.CallActive:
		a.activeNow++
		a.respSamples = append(a.respSamples, timedSample{at: e.at, dur: e.call.ResponseTime()})
	case models.CallCompleted:
		a.completedToday++
	case models.CallCancelled:
		a.cancelledToday++
		delete(a.escalated, e.call.ID.Hex())
	}

	a.respSamples = trimSamples(a.respSamples, e.at.Add(-a.window))
	a.waitSamples = trimSamples(a.waitSamples, e.at.Add(-a.window))
}

func trimSamples(samples []timedSample, cutoff time.Time) []timedSample {
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	return samples[i:]
}

// Snapshot is a pure read of the current aggregates.
func (a *Aggregator) Snapshot(now time.Time) models.EmergencyCallStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := models.EmergencyCallStats{
		PendingNow:            a.pendingNow,
		AssignedNow:           a.assignedNow,
		ActiveNow:             a.activeNow,
		EscalatedNow:          len(a.escalated),
		CompletedToday:        a.completedToday,
		CancelledToday:        a.cancelledToday,
		AverageResponseTimeMs: windowedAverageMs(a.respSamples, now, a.window),
		AverageWaitTimeMs:     windowedAverageMs(a.waitSamples, now, a.window),
		Window:                a.window,
		GeneratedAt:           now,
	}
	if total := a.completedToday + a.cancelledToday; total > 0 {
		stats.CompletionRate = float64(a.completedToday) / float64(total)
	}
	return stats
}

func (a *Aggregator) rollover() {
	a.mu.Lock()
	defer a.mu.Unlock()
	zap.S().Infow("rolling over daily dispatch counters",
		"completed", a.completedToday, "cancelled", a.cancelledToday)
	a.completedToday = 0
	a.cancelledToday = 0
}

func windowedAverageMs(samples []timedSample, now time.Time, window time.Duration) int64 {
	var sum time.Duration
	var n int64
	cutoff := now.Add(-window)
	for _, s := range samples {
		if s.at.Before(cutoff) {
			continue
		}
		sum += s.dur
		n++
	}
	if n == 0 {
		return 0
	}
	return (sum / time.Duration(n)).Milliseconds()
}
