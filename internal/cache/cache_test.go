package cache

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/storage"
)

type failingStorage struct {
	err error
}

func (f *failingStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, f.err
}

func (f *failingStorage) Set(ctx context.Context, key, value string) error {
	return f.err
}

func (f *failingStorage) Delete(ctx context.Context, key string) error {
	return f.err
}

// TestCache_WriteRead verifies that Write stores an entry and Read decodes it back.
func TestCache_WriteRead(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewMemoryStorage(0), nil)
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	in := Entry[models.CityRecord]{
		Data:      models.CityRecord{Location: models.Location{Name: "Paris"}, Current: models.Current{TempC: 18}},
		Timestamp: ts,
	}
	if res := c.Write(ctx, Key(DefaultPrefix, "Paris"), in); !res.OK() {
		t.Fatalf("Write() err = %v", res.Err)
	}

	var out Entry[models.CityRecord]
	if !c.Read(ctx, Key(DefaultPrefix, "paris"), &out) {
		t.Fatal("Read() ok = false, want true")
	}
	if out.Data.Location.Name != "Paris" || out.Data.Current.TempC != 18 {
		t.Errorf("Read() data = %+v", out.Data)
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("Read() timestamp = %v, want %v", out.Timestamp, ts)
	}
}

// TestCache_Read_Miss verifies that Read returns false for a missing key.
func TestCache_Read_Miss(t *testing.T) {
	c := New(storage.NewMemoryStorage(0), nil)
	var out Entry[models.CityRecord]
	if c.Read(context.Background(), "nonexistent", &out) {
		t.Error("Read() ok = true, want false for miss")
	}
}

// TestCache_Read_Unparseable verifies that garbage under a key is treated as absent.
func TestCache_Read_Unparseable(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStorage(0)
	_ = s.Set(ctx, "k", "{not json")
	c := New(s, nil)

	var out Entry[models.CityRecord]
	if c.Read(ctx, "k", &out) {
		t.Error("Read() ok = true, want false for corrupt entry")
	}
}

// TestCache_Write_QuotaSwallowed verifies that a quota failure is reported in the
// result and leaves nothing behind.
func TestCache_Write_QuotaSwallowed(t *testing.T) {
	ctx := context.Background()
	c := New(storage.NewMemoryStorage(8), nil)

	res := c.Write(ctx, "key", Entry[string]{Data: "a long enough value"})
	if res.OK() {
		t.Fatal("Write() ok = true, want quota failure")
	}
	if !errors.Is(res.Err, storage.ErrQuotaExceeded) {
		t.Errorf("Write() err = %v, want ErrQuotaExceeded", res.Err)
	}
	if res.Err.Op != "set" {
		t.Errorf("Op = %q, want set", res.Err.Op)
	}
}

func TestCache_Write_EncodeError(t *testing.T) {
	c := New(storage.NewMemoryStorage(0), nil)
	res := c.Write(context.Background(), "k", math.Inf(1))
	if res.OK() || res.Err.Op != "encode" {
		t.Errorf("Write() = %+v, want encode failure", res)
	}
}

// TestCache_BackendDown verifies that backend errors degrade to misses and failed writes.
func TestCache_BackendDown(t *testing.T) {
	ctx := context.Background()
	c := New(&failingStorage{err: errors.New("connection refused")}, nil)

	if res := c.Write(ctx, "k", 1); res.OK() {
		t.Error("Write() ok = true, want false")
	}
	var out int
	if c.Read(ctx, "k", &out) {
		t.Error("Read() ok = true, want false")
	}
}

func TestCache_Read_CancelledIsNotAFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantFailure bool
	}{
		{"cancelled", context.Canceled, false},
		{"wrapped cancel", &storage.PersistenceError{Op: "get", Key: "k", Err: context.Canceled}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"backend down", errors.New("connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			c := New(&failingStorage{err: tt.err}, zap.New(core))
			before := testutil.ToFloat64(observability.PersistenceFailuresTotal.WithLabelValues("get"))

			var out int
			if c.Read(context.Background(), "k", &out) {
				t.Fatal("Read() ok = true, want false")
			}

			counted := testutil.ToFloat64(observability.PersistenceFailuresTotal.WithLabelValues("get")) - before
			warned := logs.FilterLevelExact(zap.WarnLevel).Len()
			if tt.wantFailure && (counted != 1 || warned != 1) {
				t.Errorf("counted %v failures and %d warnings, want 1 and 1", counted, warned)
			}
			if !tt.wantFailure && (counted != 0 || warned != 0) {
				t.Errorf("counted %v failures and %d warnings, want none", counted, warned)
			}
		})
	}
}

func TestKey_Normalises(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"London", "wa_cache:v1:london"},
		{"LONDON", "wa_cache:v1:london"},
		{"  New York ", "wa_cache:v1:new york"},
	}
	for _, tt := range tests {
		if got := Key(DefaultPrefix, tt.query); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestEntry_Fresh(t *testing.T) {
	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	e := Entry[int]{Timestamp: ts}
	ttl := 55 * time.Second

	if !e.Fresh(ts.Add(54*time.Second), ttl) {
		t.Error("Fresh(+54s) = false, want true")
	}
	if e.Fresh(ts.Add(55*time.Second), ttl) {
		t.Error("Fresh(+55s) = true, want false")
	}
	if e.Fresh(ts.Add(56*time.Second), ttl) {
		t.Error("Fresh(+56s) = true, want false")
	}
}
