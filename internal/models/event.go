package models

import (
	"encoding/json"
	"time"
)

// Event is an inbound description of an action that may warrant notifying someone.
type Event struct {
	ActorID        string       `json:"actorId"`
	Verb           string       `json:"verb"`
	ObjectID       string       `json:"objectId"`
	Context        EventContext `json:"contextJson"`
	Targets        []string     `json:"targets,omitempty"`
	IdempotencyKey string       `json:"idempotencyKey"`
	Timestamp      *time.Time   `json:"timestamp,omitempty"`
}

// EventContext carries the known context fields of an event. Keys it does not
// know about are kept in Extra and written back out unchanged.
type EventContext struct {
	RecipientID    string
	RecipientEmail string
	Extra          map[string]json.RawMessage
}

const (
	contextKeyRecipientID    = "recipientId"
	contextKeyRecipientEmail = "recipientEmail"
)

func (c EventContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.RecipientID != "" {
		raw, err := json.Marshal(c.RecipientID)
		if err != nil {
			return nil, err
		}
		out[contextKeyRecipientID] = raw
	}
	if c.RecipientEmail != "" {
		raw, err := json.Marshal(c.RecipientEmail)
		if err != nil {
			return nil, err
		}
		out[contextKeyRecipientEmail] = raw
	}
	return json.Marshal(out)
}

func (c *EventContext) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = EventContext{}
	for k, v := range raw {
		switch k {
		case contextKeyRecipientID:
			// A non-string recipient id does not address anyone but is kept
			// verbatim so the stored context matches what was sent.
			if !decodeString(v, &c.RecipientID) {
				c.keep(k, v)
			}
		case contextKeyRecipientEmail:
			if !decodeString(v, &c.RecipientEmail) {
				c.keep(k, v)
			}
		default:
			c.keep(k, v)
		}
	}
	return nil
}

func (c *EventContext) keep(key string, raw json.RawMessage) {
	if c.Extra == nil {
		c.Extra = make(map[string]json.RawMessage)
	}
	c.Extra[key] = raw
}

func decodeString(raw json.RawMessage, dst *string) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	*dst = s
	return true
}
