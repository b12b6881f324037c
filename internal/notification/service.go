package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/metrics"
	"github.com/stanstork/notification-api/internal/models"
	"github.com/stanstork/notification-api/internal/repository"
)

// DedupeScope controls how idempotency keys are compared.
type DedupeScope string

const (
	DedupeNone      DedupeScope = "none"
	DedupeGlobal    DedupeScope = "global"
	DedupeRecipient DedupeScope = "recipient"
)

const (
	defaultSyncTimeout  = 5 * time.Second
	defaultAsyncTimeout = 15 * time.Second
	recordTimeout       = 5 * time.Second
)

type Service interface {
	// HandleEvent turns an event into a persisted notification and hands it
	// to every enabled channel. Channel failures never fail the call.
	HandleEvent(ctx context.Context, evt models.Event) (models.Notification, error)
	List(ctx context.Context, params repository.ListNotificationsParams) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	GetPreferences(ctx context.Context, userID string) (models.Preferences, error)
	// UpdatePreferences upserts a complete record; channels and types must be
	// present.
	UpdatePreferences(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error)
	// Wait blocks until background deliveries finish or ctx is done.
	Wait(ctx context.Context) error
}

// Store groups the repositories the pipeline works against.
type Store struct {
	Notifications repository.NotificationRepository
	Deliveries    repository.DeliveryRepository
	Preferences   repository.PreferenceRepository
}

type Options struct {
	DedupeScope      DedupeScope
	RecordDeliveries bool
	// SyncTimeout bounds each inline notifier, AsyncTimeout each background one.
	SyncTimeout  time.Duration
	AsyncTimeout time.Duration
	Resolver     *Resolver
}

type service struct {
	store     Store
	resolver  *Resolver
	opts      Options
	logger    zerolog.Logger
	notifiers []Notifier
	inflight  sync.WaitGroup
}

func NewService(store Store, logger zerolog.Logger, opts Options, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	if opts.DedupeScope == "" {
		opts.DedupeScope = DedupeNone
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = defaultSyncTimeout
	}
	if opts.AsyncTimeout <= 0 {
		opts.AsyncTimeout = defaultAsyncTimeout
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewResolver()
	}
	return &service{
		store:     store,
		resolver:  resolver,
		opts:      opts,
		logger:    logger.With().Str("component", "notification_pipeline").Logger(),
		notifiers: active,
	}
}

// HandleEvent validates evt, persists one notification per idempotency key and
// fans it out to every notifier the recipient's preferences allow.
func (s *service) HandleEvent(ctx context.Context, evt models.Event) (models.Notification, error) {
	const op = "pipeline.handle_event"
	if strings.TrimSpace(evt.Verb) == "" {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		return models.Notification{}, apperror.Validation(op, "verb is required")
	}
	recipientID, err := ResolveRecipient(evt)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonValidation).Inc()
		return models.Notification{}, err
	}

	notifType := Classify(evt.Verb)
	params := repository.CreateNotificationParams{
		RecipientID: recipientID,
		Type:        notifType,
		Title:       Title(evt.Verb),
		Body:        Body(evt),
		Data: models.NotificationData{
			ActorID:  evt.ActorID,
			Verb:     evt.Verb,
			ObjectID: evt.ObjectID,
			Context:  evt.Context,
		},
		AggregatedFrom: []string{},
		Priority:       Priority(evt.Verb),
	}

	notif, created, err := s.store.Notifications.CreateOnce(ctx, s.dedupeKey(recipientID, evt.IdempotencyKey), params)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonDependency).Inc()
		s.logger.Error().Err(err).Str("verb", evt.Verb).Str("recipient_id", recipientID).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	if !created {
		metrics.EventsRejected.WithLabelValues(metrics.ReasonDuplicate).Inc()
		s.logger.Info().
			Str("notification_id", notif.ID).
			Str("idempotency_key", evt.IdempotencyKey).
			Msg("duplicate event, returning existing notification")
		return notif, nil
	}

	metrics.EventsIngested.WithLabelValues(string(notifType)).Inc()
	s.logger.Info().
		Str("notification_id", notif.ID).
		Str("recipient_id", notif.RecipientID).
		Str("type", string(notif.Type)).
		Int("priority", notif.Priority).
		Msg("notification created")

	s.dispatch(ctx, Delivery{Notification: notif, RecipientEmail: evt.Context.RecipientEmail})
	return notif, nil
}

func (s *service) dedupeKey(recipientID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	switch s.opts.DedupeScope {
	case DedupeGlobal:
		return key
	case DedupeRecipient:
		return recipientID + ":" + key
	}
	return ""
}

func (s *service) dispatch(ctx context.Context, d Delivery) {
	allowed := s.resolver.Channels(s.preferencesFor(ctx, d.Notification.RecipientID), d.Notification.Type)

	for _, n := range s.notifiers {
		if !allowed.Allows(n.Channel()) {
			s.logger.Debug().
				Str("notification_id", d.Notification.ID).
				Str("channel", string(n.Channel())).
				Msg("channel disabled by recipient preferences")
			continue
		}

		if n.Dispatch() == DispatchAsync {
			s.inflight.Add(1)
			go func(n Notifier) {
				defer s.inflight.Done()
				actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.AsyncTimeout)
				defer cancel()
				s.attempt(actx, n, d)
			}(n)
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, s.opts.SyncTimeout)
		s.attempt(sctx, n, d)
		cancel()
	}
}

// preferencesFor returns nil when the recipient has no stored record or the
// lookup failed, which the resolver treats as everything enabled.
func (s *service) preferencesFor(ctx context.Context, recipientID string) *models.Preferences {
	if s.store.Preferences == nil {
		return nil
	}
	prefs, found, err := s.store.Preferences.Find(ctx, recipientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient_id", recipientID).Msg("failed to load preferences, using defaults")
		return nil
	}
	if !found {
		return nil
	}
	return &prefs
}

func (s *service) attempt(ctx context.Context, n Notifier, d Delivery) {
	channel := n.Channel()
	start := time.Now()
	outcome := safeNotify(ctx, n, d)
	metrics.DeliveryDuration.WithLabelValues(string(channel)).Observe(time.Since(start).Seconds())
	metrics.Deliveries.WithLabelValues(string(channel), string(outcome.Status)).Inc()

	logNotifyError(s.logger, outcome, channel, d.Notification)
	if outcome.Status == models.DeliveryStateSkipped || !s.opts.RecordDeliveries || s.store.Deliveries == nil {
		return
	}

	params := repository.RecordDeliveryParams{
		NotificationID: d.Notification.ID,
		Channel:        channel,
		Status:         outcome.Status,
		Attempts:       1,
	}
	if outcome.Status == models.DeliveryStatePending {
		params.Attempts = 0
	}
	if outcome.MessageID != "" {
		id := outcome.MessageID
		params.ProviderID = &id
	}
	if outcome.Error != "" {
		msg := outcome.Error
		params.LastError = &msg
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := s.store.Deliveries.Record(rctx, params); err != nil {
		s.logger.Warn().
			Err(err).
			Str("notification_id", d.Notification.ID).
			Str("channel", string(channel)).
			Msg("failed to record delivery outcome")
	}
}

func safeNotify(ctx context.Context, n Notifier, d Delivery) (outcome models.DeliveryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failed(fmt.Errorf("notifier panic: %v", r))
		}
	}()
	return n.Notify(ctx, d)
}

func (s *service) List(ctx context.Context, params repository.ListNotificationsParams) ([]models.Notification, error) {
	if strings.TrimSpace(params.RecipientID) == "" {
		return nil, apperror.Validation("notifications.list", "userId is required")
	}
	return s.store.Notifications.List(ctx, params)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.store.Notifications.MarkRead(ctx, notificationID)
}

func (s *service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, apperror.Validation("notifications.mark_all_read", "userId is required")
	}
	return s.store.Notifications.MarkAllRead(ctx, recipientID)
}

func (s *service) GetPreferences(ctx context.Context, userID string) (models.Preferences, error) {
	if strings.TrimSpace(userID) == "" {
		return models.Preferences{}, apperror.Validation("preferences.get", "userId is required")
	}
	return s.store.Preferences.Get(ctx, userID)
}

func (s *service) UpdatePreferences(ctx context.Context, update models.PreferencesUpdate) (models.Preferences, error) {
	const op = "preferences.update"
	prefs := models.Preferences{
		UserID:        strings.TrimSpace(update.UserID),
		DigestCadence: update.DigestCadence,
		QuietHours:    update.QuietHours,
	}
	if prefs.UserID == "" {
		return models.Preferences{}, apperror.Validation(op, "userId is required")
	}
	// A missing object is rejected, never stored as all-false.
	if update.Channels == nil {
		return models.Preferences{}, apperror.Validation(op, "channels is required")
	}
	if update.Types == nil {
		return models.Preferences{}, apperror.Validation(op, "types is required")
	}
	prefs.Channels = *update.Channels
	prefs.Types = *update.Types
	if prefs.DigestCadence == "" {
		prefs.DigestCadence = models.DigestCadenceDaily
	}
	if !prefs.DigestCadence.Valid() {
		return models.Preferences{}, apperror.Validation(op, "digestCadence must be one of none, daily, weekly")
	}
	if prefs.QuietHours != nil {
		if _, err := InQuietHours(*prefs.QuietHours, time.Now()); err != nil {
			return models.Preferences{}, apperror.Validation(op, err.Error())
		}
	}
	return s.store.Preferences.Upsert(ctx, prefs)
}

// Wait blocks until background deliveries finish or ctx is done.
func (s *service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
