package notification

import (
	"strings"

	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/models"
)

// ResolveRecipient picks the first explicit target, falling back to the
// recipientId carried in the event context.
func ResolveRecipient(evt models.Event) (string, error) {
	if len(evt.Targets) > 0 {
		if id := strings.TrimSpace(evt.Targets[0]); id != "" {
			return id, nil
		}
	}
	if id := strings.TrimSpace(evt.Context.RecipientID); id != "" {
		return id, nil
	}
	return "", apperror.Wrap(apperror.ErrMissingRecipient, "pipeline.resolve_recipient")
}

// Classify maps a verb onto a notification type by its namespace.
func Classify(verb string) models.NotificationType {
	switch {
	case strings.HasPrefix(verb, "social."):
		return models.NotificationTypeSocial
	case strings.HasPrefix(verb, "collab."):
		return models.NotificationTypeCollaboration
	default:
		return models.NotificationTypeSystem
	}
}

// Priority checks security/access before mention.
func Priority(verb string) int {
	switch {
	case strings.Contains(verb, "security"), strings.Contains(verb, "access"):
		return models.PrioritySecurity
	case strings.Contains(verb, "mention"):
		return models.PriorityMention
	default:
		return models.PriorityDefault
	}
}

// Title renders the headline shown for a notification of the given verb.
func Title(verb string) string {
	return "New " + strings.Replace(verb, ".", " ", 1) + " notification"
}

// Body describes who did what to which object.
func Body(evt models.Event) string {
	return "User " + evt.ActorID + " performed " + evt.Verb + " on " + evt.ObjectID
}
