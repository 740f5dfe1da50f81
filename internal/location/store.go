// Package location keeps the ordered, persisted list of saved ZIP codes and
// the current selection.
package location

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/kvstore"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

// StorageKey is the backing-store key holding the serialized list.
const StorageKey = "weather_app_locations"

const defaultPersistTimeout = 2 * time.Second

// Store is the canonical list of saved locations. Every mutation notifies
// subscribers with a snapshot of the new list; persistence is the first subscriber.
type Store struct {
	// writeMu serializes mutate-then-notify so subscribers see lists in mutation order.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	locations []models.Location
	selected  *models.Location
	listeners []func([]models.Location)

	kv             kvstore.Store
	logger         *zap.Logger
	now            func() time.Time
	persistTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for AddedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPersistTimeout bounds each write to the backing store.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// NewStore loads the saved list from kv and subscribes persistence to changes.
func NewStore(ctx context.Context, kv kvstore.Store, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		kv:             kv,
		logger:         logger,
		now:            time.Now,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load(ctx)
	s.OnChange(s.persist)
	observability.SavedLocations.Set(float64(len(s.locations)))
	return s
}

// OnChange registers fn to receive the full list after every mutation.
// fn runs synchronously on the mutating goroutine and must not mutate the store.
func (s *Store) OnChange(fn func([]models.Location)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Add appends a new location for zipCode (trimmed). It returns false without
// mutating anything when the code is not five digits or is already saved.
func (s *Store) Add(zipCode string) bool {
	zip, err := validation.ValidateZipCode(zipCode)
	if err != nil {
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	if s.indexLocked(zip) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.locations = append(s.locations, models.Location{ZipCode: zip, AddedAt: s.now()})
	s.mu.Unlock()
	s.logger.Info("location added", zap.String("zip_code", zip))
	s.notify()
	return true
}

// Remove deletes the location for zipCode and clears the selection if it
// pointed at it. Returns whether anything was removed.
func (s *Store) Remove(zipCode string) bool {
	zipCode = strings.TrimSpace(zipCode)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	i := s.indexLocked(zipCode)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.locations = append(s.locations[:i:i], s.locations[i+1:]...)
	if s.selected != nil && s.selected.ZipCode == zipCode {
		s.selected = nil
	}
	s.mu.Unlock()
	s.logger.Info("location removed", zap.String("zip_code", zipCode))
	s.notify()
	return true
}

// Select sets the selected location; nil clears it.
func (s *Store) Select(loc *models.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc == nil {
		s.selected = nil
		return
	}
	cp := *loc
	s.selected = &cp
}

// Selected returns the selected location, if any.
func (s *Store) Selected() (models.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return models.Location{}, false
	}
	return *s.selected, true
}

func (s *Store) Get(zipCode string) (models.Location, bool) {
	zipCode = strings.TrimSpace(zipCode)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(zipCode); i >= 0 {
		return s.locations[i], true
	}
	return models.Location{}, false
}

func (s *Store) Has(zipCode string) bool {
	_, ok := s.Get(zipCode)
	return ok
}

// List returns a copy of the saved locations in insertion order.
func (s *Store) List() []models.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Location, len(s.locations))
	copy(out, s.locations)
	return out
}

// ZipCodes returns the saved ZIP codes in insertion order.
func (s *Store) ZipCodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.locations))
	for i, l := range s.locations {
		out[i] = l.ZipCode
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}

// ClearAll empties the list and clears the selection.
func (s *Store) ClearAll() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	s.locations = nil
	s.selected = nil
	s.mu.Unlock()
	s.notify()
}

// ValidateZipCode reports whether zipCode, trimmed, is a valid US ZIP code.
func (s *Store) ValidateZipCode(zipCode string) bool {
	_, err := validation.ValidateZipCode(zipCode)
	return err == nil
}

func (s *Store) indexLocked(zipCode string) int {
	for i, l := range s.locations {
		if l.ZipCode == zipCode {
			return i
		}
	}
	return -1
}

func (s *Store) notify() {
	s.mu.RLock()
	snapshot := make([]models.Location, len(s.locations))
	copy(snapshot, s.locations)
	listeners := make([]func([]models.Location), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	observability.SavedLocations.Set(float64(len(snapshot)))
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// persist writes the whole list. Failures are logged; the in-memory list stays authoritative.
func (s *Store) persist(locations []models.Location) {
	raw, err := json.Marshal(locations)
	if err != nil {
		s.logger.Error("location store: encode", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, StorageKey, string(raw)); err != nil {
		s.storageError("save", err)
	}
}

func (s *Store) load(ctx context.Context) {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		s.storageError("load", err)
		return
	}
	if !ok {
		return
	}
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("location store: stored list does not decode, starting empty", zap.Error(err))
		return
	}
	for i, entry := range entries {
		var st storedLocation
		if err := json.Unmarshal(entry, &st); err != nil {
			s.logger.Warn("location store: dropping undecodable stored entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !validation.IsZipCode(st.ZipCode) || s.indexLocked(st.ZipCode) >= 0 {
			s.logger.Warn("location store: dropping invalid stored entry", zap.String("zip_code", st.ZipCode))
			continue
		}
		addedAt, ok := parseAddedAt(st.AddedAt)
		if !ok {
			s.logger.Warn("location store: unreadable addedAt, keeping entry",
				zap.String("zip_code", st.ZipCode), zap.ByteString("added_at", st.AddedAt))
		}
		s.locations = append(s.locations, models.Location{
			ZipCode: st.ZipCode,
			Name:    st.Name,
			AddedAt: addedAt,
		})
	}
}

func (s *Store) storageError(op string, err error) {
	if errors.Is(err, kvstore.ErrUnavailable) {
		s.logger.Debug("location storage unavailable", zap.String("operation", op))
		return
	}
	s.logger.Warn("location storage error", zap.String("operation", op), zap.Error(err))
}

// storedLocation keeps addedAt raw; older writers stored strings of several
// shapes or unix milliseconds.
type storedLocation struct {
	ZipCode string          `json:"zipCode"`
	Name    string          `json:"name"`
	AddedAt json.RawMessage `json:"addedAt"`
}

var addedAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseAddedAt accepts an RFC 3339 or date-only string, or unix milliseconds
// as a number or numeric string. Absent or null is the zero time and counts as read.
func parseAddedAt(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, true
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		str = string(raw)
	}
	str = strings.TrimSpace(str)
	for _, layout := range addedAtLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(str, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
