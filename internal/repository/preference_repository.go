package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/stanstork/notification-api/internal/apperror"
	"github.com/stanstork/notification-api/internal/models"
)

type PreferenceRepository interface {
	// Get returns the stored preferences for userID, or the defaults when no
	// record exists. Defaults are never written back.
	Get(ctx context.Context, userID string) (models.Preferences, error)
	// Find is Get without the default synthesis.
	Find(ctx context.Context, userID string) (models.Preferences, bool, error)
	// Upsert replaces the whole record keyed by UserID. A nil QuietHours
	// clears any stored value.
	Upsert(ctx context.Context, prefs models.Preferences) (models.Preferences, error)
}

type preferenceRepository struct {
	db *DB
}

func NewPreferenceRepository(db *DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

const preferenceColumns = `user_id, channels_json, types_json, digest_cadence, quiet_hours`

func (r *preferenceRepository) Get(ctx context.Context, userID string) (models.Preferences, error) {
	prefs, found, err := r.Find(ctx, userID)
	if err != nil {
		return models.Preferences{}, err
	}
	if !found {
		return models.DefaultPreferences(strings.TrimSpace(userID)), nil
	}
	return prefs, nil
}

func (r *preferenceRepository) Find(ctx context.Context, userID string) (models.Preferences, bool, error) {
	const op = "preferences.find"
	query := `SELECT ` + preferenceColumns + ` FROM preferences WHERE user_id = $1`
	prefs, err := scanPreferences(r.db.QueryRowContext(ctx, r.db.rebind(query), strings.TrimSpace(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Preferences{}, false, nil
		}
		return models.Preferences{}, false, apperror.Dependency(op, err)
	}
	return prefs, true, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, prefs models.Preferences) (models.Preferences, error) {
	const op = "preferences.upsert"
	userID := strings.TrimSpace(prefs.UserID)
	if userID == "" {
		return models.Preferences{}, apperror.Validation(op, "userId is required")
	}

	channels, err := json.Marshal(prefs.Channels)
	if err != nil {
		return models.Preferences{}, apperror.Dependency(op, errors.Wrap(err, "marshal channels"))
	}
	types, err := json.Marshal(prefs.Types)
	if err != nil {
		return models.Preferences{}, apperror.Dependency(op, errors.Wrap(err, "marshal types"))
	}
	var quietHours interface{}
	if prefs.QuietHours != nil {
		raw, err := json.Marshal(prefs.QuietHours)
		if err != nil {
			return models.Preferences{}, apperror.Dependency(op, errors.Wrap(err, "marshal quiet hours"))
		}
		quietHours = string(raw)
	}

	query := `
		INSERT INTO preferences (user_id, channels_json, types_json, digest_cadence, quiet_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			channels_json = excluded.channels_json,
			types_json = excluded.types_json,
			digest_cadence = excluded.digest_cadence,
			quiet_hours = excluded.quiet_hours,
			updated_at = excluded.updated_at
		RETURNING ` + preferenceColumns

	stored, err := scanPreferences(r.db.QueryRowContext(ctx, r.db.rebind(query),
		userID,
		string(channels),
		string(types),
		string(prefs.DigestCadence),
		quietHours,
		r.db.timestamp(),
	))
	if err != nil {
		return models.Preferences{}, apperror.Dependency(op, errors.Wrap(err, "upsert preferences"))
	}
	return stored, nil
}

func scanPreferences(scanner rowScanner) (models.Preferences, error) {
	var (
		prefs       models.Preferences
		channelsRaw []byte
		typesRaw    []byte
		cadence     string
		quietRaw    []byte
	)
	if err := scanner.Scan(&prefs.UserID, &channelsRaw, &typesRaw, &cadence, &quietRaw); err != nil {
		return models.Preferences{}, err
	}
	prefs.DigestCadence = models.DigestCadence(cadence)
	if err := json.Unmarshal(channelsRaw, &prefs.Channels); err != nil {
		return models.Preferences{}, errors.Wrap(err, "decode channels_json")
	}
	if err := json.Unmarshal(typesRaw, &prefs.Types); err != nil {
		return models.Preferences{}, errors.Wrap(err, "decode types_json")
	}
	if len(quietRaw) > 0 && string(quietRaw) != "null" {
		var qh models.QuietHours
		if err := json.Unmarshal(quietRaw, &qh); err != nil {
			return models.Preferences{}, errors.Wrap(err, "decode quiet_hours")
		}
		prefs.QuietHours = &qh
	}
	return prefs, nil
}
