package models

import "time"

type DeliveryChannel string

const (
	DeliveryChannelInApp DeliveryChannel = "in-app"
	DeliveryChannelEmail DeliveryChannel = "email"
)

type DeliveryState string

const (
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateSent      DeliveryState = "sent"
	DeliveryStateFailed    DeliveryState = "failed"
	DeliveryStateDelivered DeliveryState = "delivered"
	// DeliveryStateSkipped is never persisted; it marks an attempt that did not happen.
	DeliveryStateSkipped DeliveryState = "skipped"
)

// DeliveryStatus is the persisted record of delivery attempts on one channel.
type DeliveryStatus struct {
	ID             string          `json:"id" db:"id"`
	NotificationID string          `json:"notificationId" db:"notification_id"`
	Channel        DeliveryChannel `json:"channel" db:"channel"`
	Status         DeliveryState   `json:"status" db:"status"`
	Attempts       int             `json:"attempts" db:"attempts"`
	ProviderID     *string         `json:"providerId,omitempty" db:"provider_id"`
	LastError      *string         `json:"lastError,omitempty" db:"last_error"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt" db:"updated_at"`
}

// DeliveryOutcome is what a channel reports after one attempt.
type DeliveryOutcome struct {
	Status    DeliveryState `json:"status"`
	MessageID string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func (o DeliveryOutcome) Success() bool {
	return o.Status == DeliveryStateSent || o.Status == DeliveryStateDelivered
}

func Sent(messageID string) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliveryStateSent, MessageID: messageID}
}

func Failed(err error) DeliveryOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return DeliveryOutcome{Status: DeliveryStateFailed, Error: msg}
}

func Skipped(reason string) DeliveryOutcome {
	return DeliveryOutcome{Status: DeliveryStateSkipped, Error: reason}
}
