package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/shared"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// StatementCollectionName is the name of the statement collection in MongoDB
	StatementCollectionName = "wallet_statements"
)

// statementDocument is the stored form of a statement line. Amounts are kept
// as fixed 2-dp strings alongside a double copy for range queries.
type statementDocument struct {
	EntryID        string    `bson:"_id"`
	WalletID       string    `bson:"wallet_id"`
	PartnerID      string    `bson:"partner_id"`
	WalletType     string    `bson:"wallet_type"`
	FundCategory   string    `bson:"fund_category"`
	ServiceType    string    `bson:"service_type"`
	TxnType        string    `bson:"txn_type"`
	Credit         string    `bson:"credit"`
	Debit          string    `bson:"debit"`
	NetAmount      float64   `bson:"net_amount"`
	OpeningBalance string    `bson:"opening_balance"`
	ClosingBalance string    `bson:"closing_balance"`
	ReferenceID    string    `bson:"reference_id"`
	TransactionRef string    `bson:"transaction_ref,omitempty"`
	Status         string    `bson:"status"`
	Remarks        string    `bson:"remarks,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
	UpdatedAt      time.Time `bson:"updated_at"`
}

// StatementRepository implements the ledger.StatementRepository interface for MongoDB
type StatementRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

var _ ledger.StatementRepository = (*StatementRepository)(nil)

// NewStatementRepository creates a new MongoDB statement repository
func NewStatementRepository(logger *slog.Logger, db *mongo.Database) *StatementRepository {
	return &StatementRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the wallet/time index statements are listed by
func (r *StatementRepository) EnsureIndexes(ctx context.Context) error {
	collection := r.db.Collection(StatementCollectionName)

	_, err := collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "partner_id", Value: 1}, {Key: "wallet_type", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		r.logger.Error("Failed to create statement index", "error", err)
		return fmt.Errorf("failed to create statement index: %w", err)
	}
	return nil
}

// Upsert replaces the line for the entry unless a newer snapshot is stored
func (r *StatementRepository) Upsert(ctx context.Context, line *ledger.StatementLine) error {
	collection := r.db.Collection(StatementCollectionName)

	doc := toDocument(line)
	filter := bson.M{
		"_id": doc.EntryID,
		"$or": bson.A{
			bson.M{"updated_at": bson.M{"$lte": doc.UpdatedAt}},
			bson.M{"updated_at": bson.M{"$exists": false}},
		},
	}

	_, err := collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		// a newer snapshot already exists: the upsert hit the _id unique index
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Debug("Skipped stale statement line", "entry_id", doc.EntryID)
			return nil
		}
		r.logger.Error("Failed to upsert statement line",
			"entry_id", doc.EntryID,
			"error", err)
		return fmt.Errorf("failed to upsert statement line: %w", err)
	}

	return nil
}

// List retrieves a page of a wallet's statement, newest first
func (r *StatementRepository) List(ctx context.Context, q ledger.StatementQuery) ([]*ledger.StatementLine, error) {
	collection := r.db.Collection(StatementCollectionName)

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit))

	cursor, err := collection.Find(ctx, statementFilter(q), opts)
	if err != nil {
		r.logger.Error("Failed to list statement lines",
			"partner_id", q.PartnerID.String(),
			"wallet_type", q.WalletType,
			"error", err)
		return nil, fmt.Errorf("failed to list statement lines: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []statementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		r.logger.Error("Failed to decode statement lines",
			"partner_id", q.PartnerID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode statement lines: %w", err)
	}

	lines := make([]*ledger.StatementLine, 0, len(docs))
	for i := range docs {
		line, err := fromDocument(&docs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode statement line %s: %w", docs[i].EntryID, err)
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// Count counts the statement lines matching the query window
func (r *StatementRepository) Count(ctx context.Context, q ledger.StatementQuery) (int64, error) {
	collection := r.db.Collection(StatementCollectionName)

	count, err := collection.CountDocuments(ctx, statementFilter(q))
	if err != nil {
		r.logger.Error("Failed to count statement lines",
			"partner_id", q.PartnerID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count statement lines: %w", err)
	}

	return count, nil
}

func statementFilter(q ledger.StatementQuery) bson.M {
	filter := bson.M{
		"partner_id":  q.PartnerID.String(),
		"wallet_type": string(q.WalletType),
	}
	window := bson.M{}
	if q.From != nil {
		window["$gte"] = q.From.UTC()
	}
	if q.To != nil {
		window["$lt"] = q.To.UTC()
	}
	if len(window) > 0 {
		filter["created_at"] = window
	}
	return filter
}

func toDocument(l *ledger.StatementLine) *statementDocument {
	net, _ := l.Credit.Sub(l.Debit).Float64()
	return &statementDocument{
		EntryID:        l.EntryID.String(),
		WalletID:       l.WalletID.String(),
		PartnerID:      l.PartnerID.String(),
		WalletType:     string(l.WalletType),
		FundCategory:   string(l.FundCategory),
		ServiceType:    string(l.ServiceType),
		TxnType:        l.TxnType,
		Credit:         shared.FormatMoney(l.Credit),
		Debit:          shared.FormatMoney(l.Debit),
		NetAmount:      net,
		OpeningBalance: shared.FormatMoney(l.OpeningBalance),
		ClosingBalance: shared.FormatMoney(l.ClosingBalance),
		ReferenceID:    l.ReferenceID,
		TransactionRef: l.TransactionRef,
		Status:         string(l.Status),
		Remarks:        l.Remarks,
		CreatedAt:      l.CreatedAt.UTC(),
		UpdatedAt:      l.UpdatedAt.UTC(),
	}
}

func fromDocument(d *statementDocument) (*ledger.StatementLine, error) {
	var err error
	line := &ledger.StatementLine{
		WalletType:     shared.WalletType(d.WalletType),
		FundCategory:   shared.FundCategory(d.FundCategory),
		ServiceType:    shared.ServiceType(d.ServiceType),
		TxnType:        d.TxnType,
		ReferenceID:    d.ReferenceID,
		TransactionRef: d.TransactionRef,
		Status:         ledger.Status(d.Status),
		Remarks:        d.Remarks,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if line.EntryID, err = uuid.Parse(d.EntryID); err != nil {
		return nil, err
	}
	if line.WalletID, err = uuid.Parse(d.WalletID); err != nil {
		return nil, err
	}
	if line.PartnerID, err = uuid.Parse(d.PartnerID); err != nil {
		return nil, err
	}
	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&line.Credit, d.Credit},
		{&line.Debit, d.Debit},
		{&line.OpeningBalance, d.OpeningBalance},
		{&line.ClosingBalance, d.ClosingBalance},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.src); err != nil {
			return nil, err
		}
	}
	return line, nil
}
