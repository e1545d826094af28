package eth1

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositLogsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eth1_deposit_logs_merged",
		Help: "The number of deposit logs written to the event store",
	})
	skippedDepositLogs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eth1_deposit_logs_skipped",
		Help: "The number of deposit logs that were not stored",
	}, []string{"reason"})
	backfillFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eth1_backfill_failures",
		Help: "The number of failed backfill passes",
	})
	lastScannedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eth1_last_scanned_block",
		Help: "The last block scanned for deposit logs",
	})
)
