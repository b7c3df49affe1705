package jobs

import (
	"context"
	"log"
	"time"

	"github.com/fadovn/fado_crm/database"
	"github.com/fadovn/fado_crm/services"
)

const stalePendingAge = 24 * time.Hour

// FlagStalePayments surfaces PENDING transactions that never received a
// settling callback. It only reports; status is mutated exclusively by the
// callback reconciler and the refund path.
func FlagStalePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	txns := services.NewTransactionService(database.DB)
	stale, err := txns.ListStalePending(ctx, stalePendingAge)
	if err != nil {
		log.Printf("🔥 Stale payment scan failed: %v", err)
		return
	}

	for _, txn := range stale {
		ref := ""
		if txn.GatewayReference != nil {
			ref = *txn.GatewayReference
		}
		log.Printf("[ANOMALY] Transaction %s (ref=%s, order=%d) pending since %s, flag for manual review",
			txn.TransactionID, ref, txn.OrderID, txn.CreatedAt.Format(time.RFC3339))
	}
	if len(stale) > 0 {
		log.Printf("Stale payment scan found %d transaction(s) needing review", len(stale))
	}
}
