package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klymo_active_connections",
		Help: "Authenticated socket connections currently attached",
	})

	QueueJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klymo_queue_joins_total",
		Help: "Identities admitted to the waiting pool",
	})

	// QueueRejections is labelled by wire reason code.
	QueueRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klymo_queue_rejections_total",
		Help: "Queue entries refused",
	}, []string{"reason"})

	// MatchAttempts is labelled matched, no_match or error.
	MatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klymo_match_attempts_total",
		Help: "Match engine scans",
	}, []string{"result"})

	ClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klymo_claim_conflicts_total",
		Help: "Candidate claims lost to a concurrent attempt",
	})

	Rollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klymo_pairing_rollbacks_total",
		Help: "Committed candidates restored after the requester commit failed",
	})

	StrandedRestores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klymo_stranded_restores_total",
		Help: "Local queue entries put back after another instance took them",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "klymo_active_sessions",
		Help: "Chat rooms currently open on this instance",
	})

	// SessionsEnded is labelled by end reason.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "klymo_sessions_ended_total",
		Help: "Chat rooms closed",
	}, []string{"reason"})

	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klymo_messages_relayed_total",
		Help: "Chat messages relayed between participants",
	})
)
