// Package metrics holds the Prometheus instrumentation for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry bookkeeping.
type Metrics struct {
	RegistrationsConfirmed  prometheus.Counter
	RegistrationsWaitlisted prometheus.Counter
	WaitlistPromotions      prometheus.Counter
	VersionConflicts        prometheus.Counter
}

// New creates and registers all Prometheus metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RegistrationsConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventdesk_registrations_confirmed_total",
			Help: "Registrations admitted directly against event capacity.",
		}),
		RegistrationsWaitlisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventdesk_registrations_waitlisted_total",
			Help: "Registrations queued because the event was full.",
		}),
		WaitlistPromotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventdesk_waitlist_promotions_total",
			Help: "Waitlisted registrations promoted to confirmed on a vacancy.",
		}),
		VersionConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eventdesk_version_conflicts_total",
			Help: "Optimistic-concurrency write conflicts that triggered a retry.",
		}),
	}
}

// ConfirmedInc counts a confirmed registration.
func (m *Metrics) ConfirmedInc() {
	if m != nil {
		m.RegistrationsConfirmed.Inc()
	}
}

// WaitlistedInc counts a waitlisted registration.
func (m *Metrics) WaitlistedInc() {
	if m != nil {
		m.RegistrationsWaitlisted.Inc()
	}
}

// PromotionInc counts a waitlist promotion.
func (m *Metrics) PromotionInc() {
	if m != nil {
		m.WaitlistPromotions.Inc()
	}
}

// ConflictInc counts an optimistic-concurrency retry.
func (m *Metrics) ConflictInc() {
	if m != nil {
		m.VersionConflicts.Inc()
	}
}
