// Package state holds the dashboard's tracked cities, selected forecast, favorites,
// unit preference and request status, and the actions that change them.
//
// Fetch actions consult the local cache before the weather client and fold results
// in under a mutex. Each dispatch is tagged with a sequence number so a slow
// completion never overwrites the result of a later one.
package state

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
)

// DefaultTTL is how long a cached current-conditions response is served without a remote call.
const DefaultTTL = 55 * time.Second

// ErrEmptyQuery is returned for blank location queries. No state changes.
var ErrEmptyQuery = errors.New("location query is empty")

// Status is the outcome of the most recently dispatched fetch-current.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Snapshot is a consistent copy of the store state.
type Snapshot struct {
	Cities    []models.CityRecord
	Forecast  *models.ForecastRecord
	Favorites []string
	Unit      models.Unit
	Status    Status
	Error     string
}

// Cards renders the tracked cities in the snapshot's unit with favorite flags.
func (s Snapshot) Cards() []models.CityCard {
	cards := make([]models.CityCard, 0, len(s.Cities))
	for _, rec := range s.Cities {
		cards = append(cards, models.NewCityCard(rec, s.Unit, slices.Contains(s.Favorites, rec.Location.Name)))
	}
	return cards
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithCachePrefix overrides cache.DefaultPrefix.
func WithCachePrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store is the dashboard state container. Safe for concurrent use.
type Store struct {
	client client.WeatherClient
	cache  *cache.Cache
	prefs  storage.Storage
	logger *zap.Logger
	now    func() time.Time
	ttl    time.Duration
	prefix string

	mu        sync.Mutex
	cities    []models.CityRecord
	forecast  *models.ForecastRecord
	favorites []string
	unit      models.Unit
	status    Status
	lastErr   string

	statusSeq   uint64
	keySeq      map[string]uint64
	forecastSeq uint64
}

// NewStore creates a Store and loads the unit and favorites preferences from prefs.
func NewStore(ctx context.Context, wc client.WeatherClient, c *cache.Cache, prefs storage.Storage, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		client: wc,
		cache:  c,
		prefs:  prefs,
		logger: logger,
		now:    time.Now,
		ttl:    DefaultTTL,
		prefix: cache.DefaultPrefix,
		cities: []models.CityRecord{},
		status: StatusIdle,
		keySeq: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unit = loadUnit(ctx, prefs, logger)
	s.favorites = loadFavorites(ctx, prefs, logger)
	return s
}

// FetchCurrent returns current conditions for query, from a fresh cache entry when
// one exists and from the weather client otherwise, and folds the record into the
// tracked cities. A completion is discarded if a later fetch for the same query was
// dispatched meanwhile or if ctx was cancelled.
func (s *Store) FetchCurrent(ctx context.Context, query string) (models.CityRecord, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return models.CityRecord{}, ErrEmptyQuery
	}
	key := cache.Key(s.prefix, q)
	logger := observability.LoggerFrom(ctx, s.logger)

	s.mu.Lock()
	s.statusSeq++
	statusSeq := s.statusSeq
	s.keySeq[key]++
	keySeq := s.keySeq[key]
	prevStatus := s.status
	s.status = StatusLoading
	s.mu.Unlock()

	observability.RecordWeatherQuery(q)
	rec, remote, err := s.lookupCurrent(ctx, key, q, logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := keySeq == s.keySeq[key]
	if err == nil && remote && latest {
		// The response is valid even if the caller has gone away.
		s.cache.Write(context.WithoutCancel(ctx), key, cache.Entry[models.CityRecord]{Data: rec, Timestamp: s.now()})
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if statusSeq == s.statusSeq {
			s.status = prevStatus
		}
		logger.Debug("fetch cancelled, result not applied", zap.String("query", q))
		if err != nil {
			return models.CityRecord{}, err
		}
		return models.CityRecord{}, ctxErr
	}

	if err != nil {
		if statusSeq == s.statusSeq {
			s.status = StatusFailed
			s.lastErr = err.Error()
		}
		return models.CityRecord{}, err
	}

	if latest {
		s.foldLocked(rec.Clone())
	} else {
		logger.Debug("discarding stale completion", zap.String("query", q))
	}
	if statusSeq == s.statusSeq {
		s.status = StatusSucceeded
	}
	return rec, nil
}

// lookupCurrent serves a fresh cache entry or calls the weather client. remote
// reports whether the record came from the client and still needs caching.
func (s *Store) lookupCurrent(ctx context.Context, key, q string, logger *zap.Logger) (rec models.CityRecord, remote bool, err error) {
	var entry cache.Entry[models.CityRecord]
	if s.cache.Read(ctx, key, &entry) && entry.Fresh(s.now(), s.ttl) {
		observability.CacheHitsTotal.Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return entry.Data, false, nil
	}
	observability.CacheMissesTotal.Inc()
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	rec, err = s.client.Current(ctx, q)
	if err != nil {
		return models.CityRecord{}, false, err
	}
	return rec, true, nil
}

// foldLocked replaces the city with the same name in place or prepends a new one.
func (s *Store) foldLocked(rec models.CityRecord) {
	for i := range s.cities {
		if s.cities[i].Location.Name == rec.Location.Name {
			s.cities[i] = rec
			return
		}
	}
	s.cities = append([]models.CityRecord{rec}, s.cities...)
}

// FetchForecast fetches a forecast (never cached) and replaces the selected forecast.
// On failure the error is recorded and the previous selection kept.
func (s *Store) FetchForecast(ctx context.Context, query string, days int) (models.ForecastRecord, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return models.ForecastRecord{}, ErrEmptyQuery
	}

	s.mu.Lock()
	s.forecastSeq++
	seq := s.forecastSeq
	s.mu.Unlock()

	rec, err := s.client.Forecast(ctx, q, days)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err != nil {
			return models.ForecastRecord{}, err
		}
		return models.ForecastRecord{}, ctxErr
	}
	if err != nil {
		if seq == s.forecastSeq {
			s.lastErr = err.Error()
		}
		return models.ForecastRecord{}, err
	}
	if seq == s.forecastSeq {
		fc := rec.Clone()
		s.forecast = &fc
	}
	return rec, nil
}

// ClearForecast empties the selected forecast and discards any forecast still in flight.
func (s *Store) ClearForecast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecastSeq++
	s.forecast = nil
}

// ToggleFavorite removes name from favorites if present, otherwise appends it, then
// persists the whole set. It returns the new set; the error reports a persistence
// failure and may be ignored.
func (s *Store) ToggleFavorite(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.favorites, name); i >= 0 {
		s.favorites = slices.Delete(slices.Clone(s.favorites), i, i+1)
	} else {
		s.favorites = append(slices.Clone(s.favorites), name)
	}
	return s.persistFavoritesLocked(ctx)
}

// AddFavorite adds name if absent and persists the set.
func (s *Store) AddFavorite(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.favorites, name) {
		s.favorites = append(slices.Clone(s.favorites), name)
	}
	return s.persistFavoritesLocked(ctx)
}

// RemoveFavorite removes name if present and persists the set.
func (s *Store) RemoveFavorite(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.Index(s.favorites, name); i >= 0 {
		s.favorites = slices.Delete(slices.Clone(s.favorites), i, i+1)
	}
	return s.persistFavoritesLocked(ctx)
}

func (s *Store) persistFavoritesLocked(ctx context.Context) ([]string, error) {
	favs := slices.Clone(s.favorites)
	if err := saveFavorites(ctx, s.prefs, favs); err != nil {
		s.logger.Warn("persist favorites failed", zap.Error(err))
		return favs, err
	}
	return favs, nil
}

// SetUnit changes the display unit and persists it.
func (s *Store) SetUnit(ctx context.Context, u models.Unit) error {
	if !u.Valid() {
		return models.ErrUnknownUnit
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unit = u
	if err := saveUnit(ctx, s.prefs, u); err != nil {
		s.logger.Warn("persist unit failed", zap.Error(err))
		return err
	}
	return nil
}

// Cities returns a copy of the tracked cities, most recently added first.
func (s *Store) Cities() []models.CityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.citiesLocked()
}

func (s *Store) citiesLocked() []models.CityRecord {
	out := make([]models.CityRecord, len(s.cities))
	for i, rec := range s.cities {
		out[i] = rec.Clone()
	}
	return out
}

// Forecast returns a copy of the selected forecast, or nil.
func (s *Store) Forecast() *models.ForecastRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forecastLocked()
}

func (s *Store) forecastLocked() *models.ForecastRecord {
	if s.forecast == nil {
		return nil
	}
	fc := s.forecast.Clone()
	return &fc
}

// Favorites returns the favorites in insertion order.
func (s *Store) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.favorites)
}

// IsFavorite reports whether name is a favorite.
func (s *Store) IsFavorite(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.favorites, name)
}

func (s *Store) Unit() models.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unit
}

// Status returns the request status and the last recorded error. The error is not
// cleared by later successes.
func (s *Store) Status() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// Snapshot returns a consistent copy of the whole state. Callers may modify it freely.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Cities:    s.citiesLocked(),
		Forecast:  s.forecastLocked(),
		Favorites: slices.Clone(s.favorites),
		Unit:      s.unit,
		Status:    s.status,
		Error:     s.lastErr,
	}
}
