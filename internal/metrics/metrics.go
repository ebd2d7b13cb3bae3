// Package metrics registers the repository's prometheus collectors as
// package-level CounterVec/HistogramVec values, MustRegister'd at init.
package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(RequestsByRoute)
	prometheus.MustRegister(StatusCode)
	prometheus.MustRegister(RouteToCode)
	prometheus.MustRegister(SubmissionsAccepted)
	prometheus.MustRegister(SubmissionsAborted)
	prometheus.MustRegister(QueryBatchesServed)
	prometheus.MustRegister(TailWakeups)
	prometheus.MustRegister(SyncItemsPulled)
	prometheus.MustRegister(RequestDuration)
}

var RequestsByRoute = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_requests_by_route",
		Help: "HTTP requests by route",
	},
	[]string{"route"},
)

var StatusCode = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_status_code",
		Help: "HTTP responses by status code",
	},
	[]string{"code"},
)

var RouteToCode = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_route_to_code",
		Help: "HTTP responses by route and status code",
	},
	[]string{"route", "code"},
)

var SubmissionsAccepted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_submissions_accepted",
		Help: "Submissions committed to the repository",
	},
	[]string{"queue"},
)

var SubmissionsAborted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_submissions_aborted",
		Help: "Submissions aborted before or during commit",
	},
	[]string{"queue"},
)

var QueryBatchesServed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_query_batches_served",
		Help: "Filter-cursor batches served to query streams",
	},
	[]string{"dir"},
)

var TailWakeups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_tail_wakeups",
		Help: "Tail-mode wakeups, by whether they were a real advance or a heartbeat",
	},
	[]string{"kind"},
)

var SyncItemsPulled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sln_sync_items_pulled",
		Help: "Items pulled into the sync scheduler's queues",
	},
	[]string{"queue"},
)

var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "sln_request_duration_seconds",
		Help: "Request duration by route",
	},
	[]string{"route"},
)
