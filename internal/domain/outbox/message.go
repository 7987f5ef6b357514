package outbox

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/partner-wallet-ledger/internal/domain/ledger"
	"github.com/partner-wallet-ledger/internal/domain/shared"
)

// EventType names the ledger change a message carries
type EventType string

const (
	EventEntryPosted        EventType = "ledger.entry.posted"
	EventEntryStatusChanged EventType = "ledger.entry.status_changed"
)

// Message is a ledger entry snapshot written in the posting transaction and
// projected into the statement read model afterwards
type Message struct {
	ID            int64               `json:"id"`
	EntryID       uuid.UUID           `json:"entry_id"`
	WalletID      uuid.UUID           `json:"wallet_id"`
	EventType     EventType           `json:"event_type"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

// NewMessage snapshots entry as it stands after the change
func NewMessage(eventType EventType, entry *ledger.Entry) (*Message, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Message{
		EntryID:   entry.ID,
		WalletID:  entry.WalletID,
		EventType: eventType,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// LedgerEntry decodes the entry snapshot carried by the message
func (m *Message) LedgerEntry() (*ledger.Entry, error) {
	var entry ledger.Entry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordFailedAttempt counts one failed projection. It reports true and
// parks the message once maxAttempts is reached.
func (m *Message) RecordFailedAttempt(maxAttempts int) bool {
	now := time.Now().UTC()
	m.Attempts++
	m.LastAttemptAt = &now
	if m.Attempts < maxAttempts {
		return false
	}
	m.Status = shared.OutboxStatusFailedToPublish
	return true
}

// ErrMessageNotFound indicates a missing outbox message
type ErrMessageNotFound struct {
	ID int64
}

func (e ErrMessageNotFound) Error() string {
	return "outbox message not found: " + strconv.FormatInt(e.ID, 10)
}
