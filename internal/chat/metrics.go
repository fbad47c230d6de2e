package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commentsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaede_comments_received_total",
		Help: "Comments offered to the admission queue.",
	})

	commentsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaede_comments_accepted_total",
		Help: "Comments admitted into the queue.",
	})

	commentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaede_comments_rejected_total",
		Help: "Comments rejected at admission, by reason.",
	}, []string{"reason"})

	commentsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaede_comments_evicted_total",
		Help: "Low-priority comments evicted under capacity pressure.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaede_comment_queue_depth",
		Help: "Current number of comments waiting in the admission queue.",
	})
)
