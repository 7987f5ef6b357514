package postgres

import (
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// Amounts travel as fixed-point text so NUMERIC(18,2) columns never see a float.
// Reads cast the column with ::text and scan into decimal.Decimal.

func moneyArg(d decimal.Decimal) string {
	return shared.FormatMoney(d)
}

func nullableMoneyArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := shared.FormatMoney(*d)
	return &s
}

func nullableMoney(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}
