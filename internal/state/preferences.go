package state

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
)

// Storage keys for user preferences.
const (
	UnitKey      = "wa_unit"
	FavoritesKey = "wa_favs"
)

// loadUnit reads the persisted unit. Missing or unrecognised values fall back to Celsius.
func loadUnit(ctx context.Context, prefs storage.Storage, logger *zap.Logger) models.Unit {
	raw, ok, err := prefs.Get(ctx, UnitKey)
	if err != nil {
		logger.Warn("load unit preference failed", zap.Error(err))
		return models.UnitCelsius
	}
	if !ok {
		return models.UnitCelsius
	}
	u := models.Unit(raw)
	if !u.Valid() {
		logger.Warn("ignoring unknown unit preference", zap.String("value", raw))
		return models.UnitCelsius
	}
	return u
}

// loadFavorites reads the persisted favorites. Missing or corrupt values yield an empty set.
func loadFavorites(ctx context.Context, prefs storage.Storage, logger *zap.Logger) []string {
	raw, ok, err := prefs.Get(ctx, FavoritesKey)
	if err != nil {
		logger.Warn("load favorites failed", zap.Error(err))
		return []string{}
	}
	if !ok {
		return []string{}
	}
	var favs []string
	if err := json.Unmarshal([]byte(raw), &favs); err != nil {
		logger.Warn("ignoring unreadable favorites", zap.Error(err))
		return []string{}
	}
	return dedupe(favs)
}

func saveUnit(ctx context.Context, prefs storage.Storage, u models.Unit) error {
	if err := prefs.Set(ctx, UnitKey, string(u)); err != nil {
		observability.PersistenceFailuresTotal.WithLabelValues("set").Inc()
		return &storage.PersistenceError{Op: "set", Key: UnitKey, Err: err}
	}
	return nil
}

func saveFavorites(ctx context.Context, prefs storage.Storage, favs []string) error {
	raw, err := json.Marshal(favs)
	if err != nil {
		observability.PersistenceFailuresTotal.WithLabelValues("encode").Inc()
		return &storage.PersistenceError{Op: "encode", Key: FavoritesKey, Err: err}
	}
	if err := prefs.Set(ctx, FavoritesKey, string(raw)); err != nil {
		observability.PersistenceFailuresTotal.WithLabelValues("set").Inc()
		return &storage.PersistenceError{Op: "set", Key: FavoritesKey, Err: err}
	}
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
