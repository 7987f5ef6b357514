package ledger

import (
	"github.com/partner-wallet-ledger/internal/domain/wallet"
	"github.com/shopspring/decimal"
)

// Delta is the change an entry makes to a wallet's materialized amounts
type Delta struct {
	Balance  decimal.Decimal
	Held     decimal.Decimal
	Reserved decimal.Decimal
}

// contribution is what an entry in the given status adds to its wallet
func contribution(e *Entry, s Status) Delta {
	d := Delta{Balance: decimal.Zero, Held: decimal.Zero, Reserved: decimal.Zero}
	switch s {
	case StatusCompleted:
		d.Balance = e.Net()
	case StatusHold:
		d.Balance = e.Net()
		d.Held = e.Net()
	case StatusPending:
		d.Reserved = e.Debit
	}
	return d
}

// TransitionDelta is the change of moving e from one status to another.
// An empty from status means the entry is new.
func TransitionDelta(e *Entry, from, to Status) Delta {
	before := contribution(e, from)
	after := contribution(e, to)
	return Delta{
		Balance:  after.Balance.Sub(before.Balance),
		Held:     after.Held.Sub(before.Held),
		Reserved: after.Reserved.Sub(before.Reserved),
	}
}

// ApplyTo adds the delta to the wallet and bumps its version
func (d Delta) ApplyTo(w *wallet.Wallet) {
	w.Balance = w.Balance.Add(d.Balance)
	w.HeldAmount = w.HeldAmount.Add(d.Held)
	w.ReservedAmount = w.ReservedAmount.Add(d.Reserved)
	w.Touch()
}

// Totals recomputes a wallet's materialized amounts from its entries
func Totals(entries []*Entry) Delta {
	total := Delta{Balance: decimal.Zero, Held: decimal.Zero, Reserved: decimal.Zero}
	for _, e := range entries {
		c := contribution(e, e.Status)
		total.Balance = total.Balance.Add(c.Balance)
		total.Held = total.Held.Add(c.Held)
		total.Reserved = total.Reserved.Add(c.Reserved)
	}
	return total
}

// Reconciliation compares materialized wallet amounts against the entries
type Reconciliation struct {
	WalletID         string          `json:"wallet_id"`
	Materialized     decimal.Decimal `json:"materialized_balance"`
	Computed         decimal.Decimal `json:"computed_balance"`
	MaterializedHeld decimal.Decimal `json:"materialized_held"`
	ComputedHeld     decimal.Decimal `json:"computed_held"`
	Drift            decimal.Decimal `json:"drift"`
	EntryCount       int             `json:"entry_count"`
	Consistent       bool            `json:"consistent"`
}

// Reconcile checks w against its full entry set
func Reconcile(w *wallet.Wallet, entries []*Entry) Reconciliation {
	totals := Totals(entries)
	drift := w.Balance.Sub(totals.Balance)
	return Reconciliation{
		WalletID:         w.ID.String(),
		Materialized:     w.Balance,
		Computed:         totals.Balance,
		MaterializedHeld: w.HeldAmount,
		ComputedHeld:     totals.Held,
		Drift:            drift,
		EntryCount:       len(entries),
		Consistent: drift.IsZero() &&
			w.HeldAmount.Equal(totals.Held) &&
			w.ReservedAmount.Equal(totals.Reserved),
	}
}
