package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationTypeSocial        NotificationType = "SOCIAL"
	NotificationTypeCollaboration NotificationType = "COLLABORATION"
	NotificationTypeSystem        NotificationType = "SYSTEM"
)

// Priorities, lower is more urgent.
const (
	PrioritySecurity = 1
	PriorityMention  = 2
	PriorityDefault  = 3
)

// NotificationData is the structured payload persisted with every notification.
type NotificationData struct {
	ActorID  string       `json:"actorId"`
	Verb     string       `json:"verb"`
	ObjectID string       `json:"objectId"`
	Context  EventContext `json:"context"`
}

type Notification struct {
	ID             string           `json:"id" db:"id"`
	RecipientID    string           `json:"recipientId" db:"recipient_id"`
	Type           NotificationType `json:"type" db:"type"`
	Title          string           `json:"title" db:"title"`
	Body           string           `json:"body" db:"body"`
	Data           json.RawMessage  `json:"dataJson" db:"data_json"`
	AggregatedFrom []string         `json:"aggregatedFrom" db:"aggregated_from"`
	Priority       int              `json:"priority" db:"priority"`
	IsRead         bool             `json:"isRead" db:"is_read"`
	IsArchived     bool             `json:"isArchived" db:"is_archived"`
	CreatedAt      time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time        `json:"updatedAt" db:"updated_at"`
	Deliveries     []DeliveryStatus `json:"deliveries,omitempty"`
}
