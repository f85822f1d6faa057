// Package maintenance keeps the run ledger bounded while the server runs.
package maintenance

import (
	"context"
	"log"
	"time"

	"github.com/kennethnrk/echo/internal/controller/runs"
	"github.com/kennethnrk/echo/internal/store"
)

// HandleLedger prunes old runs and compacts the ledger when anything was removed.
func HandleLedger(s *store.Store, keep int) error {
	removed, err := runs.PruneRuns(s, keep)
	if err != nil {
		return err
	}
	if removed == 0 {
		return nil
	}
	log.Printf("Pruned %d old training runs", removed)
	return s.Compact()
}

// StartLedgerMaintenance runs HandleLedger at startup and then every interval
// until ctx is done.
func StartLedgerMaintenance(ctx context.Context, s *store.Store, interval time.Duration, keep int) {
	log.Printf("Starting ledger maintenance with interval: %v", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := HandleLedger(s, keep); err != nil {
		log.Printf("Error in initial ledger maintenance: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := HandleLedger(s, keep); err != nil {
				log.Printf("Error in ledger maintenance: %v", err)
			}
		}
	}
}
