// Package metrics provides Prometheus metrics for the twinlink engine.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry and every metric the engine records.
// A nil *Manager is valid and records nothing.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         *prometheus.Registry

	// Autopilot
	autopilotSessions *prometheus.CounterVec
	autopilotSkips    *prometheus.CounterVec
	autopilotDuration prometheus.Histogram

	// Connections and scoring
	connectionsCreated    *prometheus.CounterVec
	connectionTransitions *prometheus.CounterVec
	compatibilityScores   prometheus.Histogram
	insightsDegraded      prometheus.Counter

	// Follow-ups
	followUpsScheduled *prometheus.CounterVec

	// Gamification
	xpAwarded            *prometheus.CounterVec
	levelUps             prometheus.Counter
	achievementsUnlocked prometheus.Counter
	rewardsCreated       *prometheus.CounterVec

	// Realtime and sync
	eventsPublished *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	syncRecords     *prometheus.CounterVec
	syncErrors      *prometheus.CounterVec
}

// NewManager creates a metrics manager. Without WithPrometheusRegistry a fresh
// registry carrying the Go and process collectors is used.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "twinlink",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if m.enabled {
		m.initializeMetrics()
	}
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)

	m.autopilotSessions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autopilot_sessions_total",
		Help:      "Autopilot sessions by terminal status",
	}, []string{"status"})
	m.autopilotSkips = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autopilot_gate_skips_total",
		Help:      "Autopilot invocations refused by the gate, by reason",
	}, []string{"reason"})
	m.autopilotDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "autopilot_session_duration_seconds",
		Help:      "Wall time of autopilot sessions",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	m.connectionsCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connections_created_total",
		Help:      "Connections created, by origin",
	}, []string{"created_by"})
	m.connectionTransitions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "connection_transitions_total",
		Help:      "Connection status transitions, by new status",
	}, []string{"status"})
	m.compatibilityScores = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "compatibility_score",
		Help:      "Distribution of computed compatibility scores",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})
	m.insightsDegraded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "insights_degraded_total",
		Help:      "Compatibility analyses returned without insights because the writer failed",
	})

	m.followUpsScheduled = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "followups_scheduled_total",
		Help:      "Follow-ups scheduled, by connection stage",
	}, []string{"stage"})

	m.xpAwarded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "xp_awarded_total",
		Help:      "Experience points awarded, by action type",
	}, []string{"action"})
	m.levelUps = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "level_ups_total",
		Help:      "Level-ups across all users",
	})
	m.achievementsUnlocked = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "achievements_unlocked_total",
		Help:      "Achievements completed across all users",
	})
	m.rewardsCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rewards_created_total",
		Help:      "Rewards created, by reward type",
	}, []string{"type"})

	m.eventsPublished = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_published_total",
		Help:      "Realtime events published, by event type",
	}, []string{"type"})
	m.eventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_dropped_total",
		Help:      "Realtime events dropped because a subscriber buffer was full",
	})
	m.syncRecords = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_records_total",
		Help:      "Records mirrored from external services, by worker",
	}, []string{"worker"})
	m.syncErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_errors_total",
		Help:      "Failed sync polls, by worker",
	}, []string{"worker"})
}

func (m *Manager) on() bool { return m != nil && m.enabled }

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather returns the current metric families.
func (m *Manager) Gather() (int, error) {
	if m == nil {
		return 0, nil
	}
	mfs, err := m.registry.Gather()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrGatherFailed, err)
	}
	return len(mfs), nil
}

func (m *Manager) RecordSession(status string, took time.Duration) {
	if !m.on() {
		return
	}
	m.autopilotSessions.WithLabelValues(status).Inc()
	m.autopilotDuration.Observe(took.Seconds())
}

func (m *Manager) RecordGateSkip(reason string) {
	if !m.on() {
		return
	}
	m.autopilotSkips.WithLabelValues(reason).Inc()
}

func (m *Manager) RecordConnectionCreated(createdBy string) {
	if !m.on() {
		return
	}
	m.connectionsCreated.WithLabelValues(createdBy).Inc()
}

func (m *Manager) RecordTransition(status string) {
	if !m.on() {
		return
	}
	m.connectionTransitions.WithLabelValues(status).Inc()
}

func (m *Manager) ObserveScore(score float64) {
	if !m.on() {
		return
	}
	m.compatibilityScores.Observe(score)
}

func (m *Manager) RecordInsightsDegraded() {
	if !m.on() {
		return
	}
	m.insightsDegraded.Inc()
}

func (m *Manager) RecordFollowUp(stage string) {
	if !m.on() {
		return
	}
	m.followUpsScheduled.WithLabelValues(stage).Inc()
}

func (m *Manager) RecordXP(action string, xp int64) {
	if !m.on() {
		return
	}
	m.xpAwarded.WithLabelValues(action).Add(float64(xp))
}

func (m *Manager) RecordLevelUp() {
	if !m.on() {
		return
	}
	m.levelUps.Inc()
}

func (m *Manager) RecordAchievement() {
	if !m.on() {
		return
	}
	m.achievementsUnlocked.Inc()
}

func (m *Manager) RecordReward(rewardType string) {
	if !m.on() {
		return
	}
	m.rewardsCreated.WithLabelValues(rewardType).Inc()
}

func (m *Manager) RecordEvent(eventType string) {
	if !m.on() {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Manager) RecordEventDropped() {
	if !m.on() {
		return
	}
	m.eventsDropped.Inc()
}

func (m *Manager) RecordSync(worker string, records int) {
	if !m.on() {
		return
	}
	m.syncRecords.WithLabelValues(worker).Add(float64(records))
}

func (m *Manager) RecordSyncError(worker string) {
	if !m.on() {
		return
	}
	m.syncErrors.WithLabelValues(worker).Inc()
}
