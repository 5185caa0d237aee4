package lib

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgate_challenges_issued",
		Help: "The total number of challenge issuance attempts by result",
	}, []string{"result"})

	adminProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkgate_admin_proxy_requests",
		Help: "The total number of admin rate-limit proxy calls by method and outcome",
	}, []string{"method", "outcome"})

	suspiciousFlags = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkgate_suspicious_ip_flags",
		Help: "The total number of suspicious-IP flags recorded",
	})

	linksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkgate_links_created",
		Help: "The total number of short links created",
	})
)
