package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "auth_logins_total", Help: "Login attempts by result."},
		[]string{"result"},
	)
	Refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "auth_refresh_total", Help: "Refresh-rotation attempts by result."},
		[]string{"result"},
	)
	Logouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "auth_logouts_total", Help: "Logout operations by scope (one, all)."},
		[]string{"scope"},
	)
	SessionsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "auth_sessions_purged_total", Help: "Expired refresh credentials removed by the sweeper."},
	)
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "bandmate", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(Refreshes)
	reg.MustRegister(Logouts)
	reg.MustRegister(SessionsPurged)
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
}
