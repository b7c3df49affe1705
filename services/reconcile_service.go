package services

import (
	"context"
	"errors"
	"log"

	"github.com/fadovn/fado_crm/models"
	"github.com/fadovn/fado_crm/payments"
)

// Channel identifies which callback path a parameter set arrived on. The
// browser return redirect is informational; only the server-to-server
// webhook is authoritative for settlement and may trigger fulfillment.
type Channel string

const (
	ChannelReturn  Channel = "return"
	ChannelWebhook Channel = "webhook"
)

// Outcome tags the result of one callback so each handler can map it onto
// its own response contract.
type Outcome int

const (
	// OutcomeApplied: the webhook settled the transaction.
	OutcomeApplied Outcome = iota
	// OutcomeObserved: the return channel reported a status; recorded but
	// not settled, the webhook remains authoritative.
	OutcomeObserved
	OutcomeDuplicate
	OutcomeConflict
	OutcomeAmountMismatch
	OutcomeUnknownRef
	OutcomeInvalidSignature
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeObserved:
		return "observed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	case OutcomeAmountMismatch:
		return "amount_mismatch"
	case OutcomeUnknownRef:
		return "unknown_ref"
	case OutcomeInvalidSignature:
		return "invalid_signature"
	}
	return "unknown"
}

type ReconcileResult struct {
	Outcome Outcome
	TxnRef  string
	// Status is the transaction's status after processing, when the
	// transaction could be resolved at all.
	Status models.PaymentStatus
}

// FulfillmentHook receives the settled order and final status. It runs
// detached from the callback response so a slow downstream cannot stall the
// webhook acknowledgement.
type FulfillmentHook func(orderID uint, status models.PaymentStatus)

// Reconciler merges both callback channels into one authoritative,
// idempotent transaction record.
type Reconciler struct {
	secret  string
	txns    *TransactionService
	fulfill FulfillmentHook
}

func NewReconciler(secret string, txns *TransactionService, fulfill FulfillmentHook) *Reconciler {
	return &Reconciler{secret: secret, txns: txns, fulfill: fulfill}
}

// Process runs the shared callback pipeline: signature check, status
// derivation, amount re-validation against the stored baseline, then the
// compare-and-swap update. A non-nil error means a store/transport problem
// the gateway should retry; every policy decision comes back as an Outcome.
func (r *Reconciler) Process(ctx context.Context, params map[string]string, channel Channel) (*ReconcileResult, error) {
	ref := params[payments.TxnRefField]

	if !payments.VerifySignature(params, r.secret) {
		log.Printf("[ANOMALY] %s callback with invalid signature, ref=%q", channel, ref)
		return &ReconcileResult{Outcome: OutcomeInvalidSignature, TxnRef: ref}, nil
	}

	if ref == "" {
		log.Printf("[ANOMALY] %s callback without a transaction reference", channel)
		return &ReconcileResult{Outcome: OutcomeUnknownRef}, nil
	}

	newStatus := models.PaymentFailed
	if params[payments.ResponseCodeField] == payments.ResponseCodeSuccess {
		newStatus = models.PaymentSuccess
	}

	txn, err := r.txns.GetByReference(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			log.Printf("[ANOMALY] %s callback for unknown reference %s", channel, ref)
			return &ReconcileResult{Outcome: OutcomeUnknownRef, TxnRef: ref}, nil
		}
		return nil, err
	}

	reported, err := payments.ParseMinorUnits(params[payments.AmountField])
	if err != nil || reported != payments.MinorUnits(txn.Amount) {
		log.Printf("[ANOMALY] %s callback for %s reports amount %q, baseline is %d minor units; flagged for manual review",
			channel, ref, params[payments.AmountField], payments.MinorUnits(txn.Amount))
		return &ReconcileResult{Outcome: OutcomeAmountMismatch, TxnRef: ref, Status: txn.Status}, nil
	}

	// The browser redirect is informational: its report is recorded for
	// later cross-checking but never settles the transaction. Otherwise a
	// skipped or manipulated redirect could lock in a status the webhook
	// can no longer correct.
	if channel == ChannelReturn {
		switch {
		case txn.Status == newStatus:
			return &ReconcileResult{Outcome: OutcomeDuplicate, TxnRef: ref, Status: txn.Status}, nil
		case txn.Status.Terminal():
			log.Printf("[ANOMALY] Return channel reports %s for %s but webhook settled it as %s",
				newStatus, ref, txn.Status)
			return &ReconcileResult{Outcome: OutcomeConflict, TxnRef: ref, Status: txn.Status}, nil
		default:
			if err := r.txns.RecordReturnObservation(ctx, ref, newStatus); err != nil {
				return nil, err
			}
			return &ReconcileResult{Outcome: OutcomeObserved, TxnRef: ref, Status: newStatus}, nil
		}
	}

	updated, applied, err := r.txns.UpdateStatusByReference(ctx, ref, newStatus)
	if err != nil {
		switch {
		case errors.Is(err, ErrStatusConflict):
			log.Printf("[ANOMALY] %s callback reports %s for %s but status is already %s",
				channel, newStatus, ref, txn.Status)
			return &ReconcileResult{Outcome: OutcomeConflict, TxnRef: ref, Status: txn.Status}, nil
		case errors.Is(err, ErrTxnNotFound):
			return &ReconcileResult{Outcome: OutcomeUnknownRef, TxnRef: ref}, nil
		default:
			return nil, err
		}
	}

	if !applied {
		return &ReconcileResult{Outcome: OutcomeDuplicate, TxnRef: ref, Status: updated.Status}, nil
	}

	if txn.ReturnObserved != nil && *txn.ReturnObserved != string(newStatus) {
		log.Printf("[ANOMALY] Webhook settled %s as %s but the return channel had reported %s",
			ref, newStatus, *txn.ReturnObserved)
	}

	if r.fulfill != nil {
		go r.fulfill(updated.OrderID, updated.Status)
	}

	return &ReconcileResult{Outcome: OutcomeApplied, TxnRef: ref, Status: updated.Status}, nil
}
