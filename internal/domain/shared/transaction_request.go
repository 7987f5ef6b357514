package shared

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrMissingExternalID  = errors.New("callback external id is required")
	ErrMissingPartner     = errors.New("partner id is required")
	ErrInvalidServiceType = errors.New("invalid service type")
)

// CallbackStatus is the provider-reported outcome of a transaction
type CallbackStatus string

const (
	CallbackStatusCaptured CallbackStatus = "captured"
	CallbackStatusFailed   CallbackStatus = "failed"
)

// PaymentCallback defines a Kafka message carrying a provider-side transaction outcome
type PaymentCallback struct {
	ExternalID         string          `json:"external_id"`
	PartnerID          uuid.UUID       `json:"partner_id"`
	ServiceType        ServiceType     `json:"service_type"`
	Mode               string          `json:"mode,omitempty"`
	CardType           string          `json:"card_type,omitempty"`
	CardBrand          string          `json:"card_brand,omitempty"`
	CardClassification string          `json:"card_classification,omitempty"`
	Amount             decimal.Decimal `json:"amount"`
	Status             CallbackStatus  `json:"status"`
	Instant            bool            `json:"instant"`
	CorrelationID      string          `json:"correlation_id,omitempty"`
	CapturedAt         time.Time       `json:"captured_at"`
}

// Validate checks the callback carries everything needed to record it
func (c *PaymentCallback) Validate() error {
	if c.ExternalID == "" {
		return ErrMissingExternalID
	}
	if c.PartnerID == uuid.Nil {
		return ErrMissingPartner
	}
	if !c.ServiceType.Valid() {
		return ErrInvalidServiceType
	}
	if _, err := NormalizeAmount(c.Amount); err != nil {
		return err
	}
	return nil
}
