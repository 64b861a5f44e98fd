package events

import (
	"encoding/json"
	"strings"
	"time"
)

// Exchange names. One topic exchange per owning service.
const (
	DonationsExchange = "donations.events"
	PaymentsExchange  = "payments.events"
	CampaignsExchange = "campaigns.events"
	BankExchange      = "bank.events"
)

// Event kinds published through the outbox.
const (
	DonationCreated        = "DonationCreated"
	DonationStatusChanged  = "DonationStatusChanged" // suffixed with ".<STATUS>"
	PaymentStatusEventKind = "PaymentStatus"         // suffixed with ".<STATUS>"
	PaymentRefunded        = "PaymentRefunded"
	TransferCompleted      = "TransferCompleted"
	CampaignCreated        = "CampaignCreated"
	CampaignUpdated        = "CampaignUpdated"
	CampaignClosed         = "CampaignClosed"
)

// Envelope is the wire format for every bus message.
type Envelope struct {
	EventID     int64           `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
}

// RoutingKey derives the topic routing key for an event kind:
// "<service>.<event_kind lowercased>". Status-suffixed kinds keep the
// dot, e.g. service "payment" + "PaymentStatus.CAPTURED" →
// "payment.paymentstatus.captured".
func RoutingKey(service, eventKind string) string {
	return service + "." + strings.ToLower(eventKind)
}

// StatusEvent builds a status-suffixed event kind, e.g.
// StatusEvent(DonationStatusChanged, "COMPLETED") →
// "DonationStatusChanged.COMPLETED".
func StatusEvent(kind, status string) string {
	return kind + "." + status
}
