// Package dashboard ties the state store to the signed-in user: it starts and
// stops polling on auth changes, mirrors favorites to the user's remote
// document, and exposes the intents the HTTP layer raises.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/identity"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/state"
	"github.com/kjstillabower/weather-dashboard/internal/userdocs"
)

const (
	DefaultSearchMinChars   = 3
	DefaultSearchMaxResults = 6
	DefaultSyncTimeout      = 5 * time.Second
)

// AllowedForecastDays are the selectable forecast ranges.
var AllowedForecastDays = []int{3, 5, 7}

// ErrInvalidDays is returned for a forecast range outside AllowedForecastDays.
var ErrInvalidDays = errors.New("forecast days must be 3, 5 or 7")

// Poller is the refresh loop owned by the dashboard.
type Poller interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// Config holds the dashboard's behavior settings.
type Config struct {
	RequireSignIn       bool
	SearchMinChars      int
	SearchMaxResults    int
	DefaultForecastDays int
	SyncTimeout         time.Duration
}

func (c *Config) applyDefaults() {
	if c.SearchMinChars <= 0 {
		c.SearchMinChars = DefaultSearchMinChars
	}
	if c.SearchMaxResults <= 0 {
		c.SearchMaxResults = DefaultSearchMaxResults
	}
	if c.DefaultForecastDays == 0 {
		c.DefaultForecastDays = client.DefaultForecastDays
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
}

// View is what the dashboard page renders.
type View struct {
	Cards     []models.CityCard     `json:"cards"`
	Favorites []string              `json:"favorites"`
	Unit      models.Unit           `json:"unit"`
	Status    state.Status          `json:"status"`
	Error     string                `json:"error,omitempty"`
	Forecast  *models.ForecastChart `json:"forecast,omitempty"`
	User      *identity.User        `json:"user,omitempty"`
	Polling   bool                  `json:"polling"`
}

// Dashboard coordinates the store, poller, session and remote documents.
type Dashboard struct {
	store   *state.Store
	weather client.WeatherClient
	poller  Poller
	session *identity.Session
	docs    userdocs.Store
	cfg     Config
	logger  *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()

	// favMu orders each favorites change with its remote write, so the user
	// document always ends with the latest in-memory set.
	favMu sync.Mutex
}

// New creates a Dashboard. docs may be nil, in which case favorites stay local.
func New(store *state.Store, weather client.WeatherClient, poller Poller, session *identity.Session, docs userdocs.Store, cfg Config, logger *zap.Logger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Dashboard{
		store:   store,
		weather: weather,
		poller:  poller,
		session: session,
		docs:    docs,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start subscribes to auth changes. Polling runs while ctx is live: always when
// sign-in is not required, otherwise only while someone is signed in.
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.unsubscribe != nil {
		d.mu.Unlock()
		return nil
	}
	d.ctx = ctx
	d.mu.Unlock()

	if !d.cfg.RequireSignIn {
		if err := d.poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
	}
	unsubscribe := d.session.OnAuthStateChanged(d.onAuthStateChanged)

	d.mu.Lock()
	d.unsubscribe = unsubscribe
	d.mu.Unlock()
	return nil
}

// Close unsubscribes from auth changes and stops polling.
func (d *Dashboard) Close() {
	d.mu.Lock()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	d.poller.Stop()
}

func (d *Dashboard) baseContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

func (d *Dashboard) onAuthStateChanged(u *identity.User) {
	ctx := d.baseContext()
	if u == nil {
		if d.cfg.RequireSignIn {
			d.poller.Stop()
		}
		return
	}

	d.seedFavorites(ctx, u.ID)
	if err := d.poller.Start(ctx); err != nil {
		d.logger.Error("failed to start polling", zap.String("user_id", u.ID), zap.Error(err))
	}
}

// seedFavorites writes the local favorites to the user's document when the user
// has none yet. An existing document is left alone.
func (d *Dashboard) seedFavorites(ctx context.Context, userID string) {
	if d.docs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.SyncTimeout)
	defer cancel()
	d.favMu.Lock()
	defer d.favMu.Unlock()

	_, found, err := d.docs.GetFavorites(ctx, userID)
	if err != nil {
		observability.FavoritesSyncFailuresTotal.Inc()
		d.logger.Warn("failed to read favorites document", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if found {
		return
	}
	if err := d.docs.SetFavorites(ctx, userID, d.store.Favorites()); err != nil {
		observability.FavoritesSyncFailuresTotal.Inc()
		d.logger.Warn("failed to seed favorites document", zap.String("user_id", userID), zap.Error(err))
		return
	}
	d.logger.Info("seeded favorites document", zap.String("user_id", userID))
}

func (d *Dashboard) syncFavorites(ctx context.Context, favorites []string) {
	if d.docs == nil {
		return
	}
	user, ok := d.session.CurrentUser()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SyncTimeout)
	defer cancel()
	if err := d.docs.SetFavorites(ctx, user.ID, favorites); err != nil {
		observability.FavoritesSyncFailuresTotal.Inc()
		observability.LoggerFrom(ctx, d.logger).Warn("failed to sync favorites",
			zap.String("user_id", user.ID), zap.Error(err))
	}
}

// View returns the current dashboard state.
func (d *Dashboard) View() View {
	snap := d.store.Snapshot()
	v := View{
		Cards:     snap.Cards(),
		Favorites: snap.Favorites,
		Unit:      snap.Unit,
		Status:    snap.Status,
		Error:     snap.Error,
		Polling:   d.poller.Running(),
	}
	if snap.Forecast != nil {
		chart := models.NewForecastChart(*snap.Forecast, snap.Unit)
		v.Forecast = &chart
	}
	if user, ok := d.session.CurrentUser(); ok {
		v.User = &user
	}
	return v
}

// AddCity fetches current conditions for query and returns its card.
func (d *Dashboard) AddCity(ctx context.Context, query string) (models.CityCard, error) {
	rec, err := d.store.FetchCurrent(ctx, query)
	if err != nil {
		return models.CityCard{}, err
	}
	return models.NewCityCard(rec, d.store.Unit(), d.store.IsFavorite(rec.Location.Name)), nil
}

// Search returns location suggestions. Queries shorter than the configured
// minimum return an empty list without a remote call.
func (d *Dashboard) Search(ctx context.Context, query string) ([]models.LocationSuggestion, error) {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < d.cfg.SearchMinChars {
		return []models.LocationSuggestion{}, nil
	}
	results, err := d.weather.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(results) > d.cfg.SearchMaxResults {
		results = results[:d.cfg.SearchMaxResults]
	}
	if results == nil {
		results = []models.LocationSuggestion{}
	}
	return results, nil
}

// Forecast selects a forecast for query and returns it as chart series in the
// current unit. days of 0 uses the configured default.
func (d *Dashboard) Forecast(ctx context.Context, query string, days int) (models.ForecastChart, error) {
	if days == 0 {
		days = d.cfg.DefaultForecastDays
	}
	if !validDays(days) {
		return models.ForecastChart{}, ErrInvalidDays
	}
	rec, err := d.store.FetchForecast(ctx, query, days)
	if err != nil {
		return models.ForecastChart{}, err
	}
	return models.NewForecastChart(rec, d.store.Unit()), nil
}

// ClearForecast drops the selected forecast.
func (d *Dashboard) ClearForecast() {
	d.store.ClearForecast()
}

// ToggleFavorite flips name in the favorites and, when signed in, mirrors the
// new set to the user's document. Remote failures are logged, not returned.
func (d *Dashboard) ToggleFavorite(ctx context.Context, name string) []string {
	return d.changeFavorites(ctx, func() ([]string, error) {
		return d.store.ToggleFavorite(ctx, name)
	})
}

// SetFavorite adds or removes name. Unlike ToggleFavorite it is idempotent.
func (d *Dashboard) SetFavorite(ctx context.Context, name string, favorite bool) []string {
	return d.changeFavorites(ctx, func() ([]string, error) {
		if favorite {
			return d.store.AddFavorite(ctx, name)
		}
		return d.store.RemoveFavorite(ctx, name)
	})
}

func (d *Dashboard) changeFavorites(ctx context.Context, change func() ([]string, error)) []string {
	d.favMu.Lock()
	defer d.favMu.Unlock()
	// A local persistence failure is already logged by the store.
	favorites, _ := change()
	d.syncFavorites(ctx, favorites)
	return favorites
}

// SetUnit changes the temperature unit. A local persistence failure is logged;
// the in-memory unit still changes.
func (d *Dashboard) SetUnit(ctx context.Context, u models.Unit) error {
	if !u.Valid() {
		return fmt.Errorf("%w: %q", models.ErrUnknownUnit, u)
	}
	_ = d.store.SetUnit(ctx, u)
	return nil
}

func validDays(days int) bool {
	for _, d := range AllowedForecastDays {
		if d == days {
			return true
		}
	}
	return false
}
