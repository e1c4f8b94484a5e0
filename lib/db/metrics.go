package db

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// TxCounters groups the transaction counters of one engine.
type TxCounters struct {
	Commits   *metrics.Counter
	Rollbacks *metrics.Counter
	Conflicts *metrics.Counter
}

// NewTxCounters returns the (shared) counters for impl. Counters are global
// per engine, so multiple backend instances of the same engine add up.
func NewTxCounters(impl Implementation) *TxCounters {
	return &TxCounters{
		Commits:   metrics.GetOrCreateCounter(fmt.Sprintf(`skv_tx_commits_total{engine=%q}`, impl)),
		Rollbacks: metrics.GetOrCreateCounter(fmt.Sprintf(`skv_tx_rollbacks_total{engine=%q}`, impl)),
		Conflicts: metrics.GetOrCreateCounter(fmt.Sprintf(`skv_tx_conflicts_total{engine=%q}`, impl)),
	}
}
