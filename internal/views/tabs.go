// Package views holds the dashboard view-models: the multi-location tab view
// and the per-ZIP forecast view. They own transient fetch state only; the
// location list itself lives in the location store.
package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

var (
	// ErrNoLocations means there is nothing to show; callers send the user home.
	ErrNoLocations = errors.New("no saved locations")
	ErrTabNotFound = errors.New("tab not found")
)

// DefaultFetchTimeout bounds a background fetch, which outlives the request that started it.
const DefaultFetchTimeout = 15 * time.Second

const (
	modeBackground = "background"
	modeRefresh    = "refresh"
)

type WeatherSource interface {
	GetCurrent(ctx context.Context, zipCode string) (models.CurrentWeather, error)
	InvalidateCache(ctx context.Context, zipCode string)
}

type LocationSource interface {
	ZipCodes() []string
	Remove(zipCode string) bool
	Has(zipCode string) bool
}

// TabsView keeps one WeatherFetchState per saved location, in location order,
// plus the selected tab.
//
// Every fetch carries a generation number. A completion whose generation is
// no longer current for its ZIP (superseded by a refresh or reconcile, or the
// tab was closed) is discarded.
type TabsView struct {
	weather      WeatherSource
	locations    LocationSource
	logger       *zap.Logger
	fetchTimeout time.Duration

	mu          sync.Mutex
	states      []models.WeatherFetchState
	selected    string
	generations map[string]uint64
	nextGen     uint64
	listeners   []func()

	inflight sync.WaitGroup
}

type TabsOption func(*TabsView)

func WithFetchTimeout(d time.Duration) TabsOption {
	return func(v *TabsView) {
		if d > 0 {
			v.fetchTimeout = d
		}
	}
}

func NewTabsView(weather WeatherSource, locations LocationSource, logger *zap.Logger, opts ...TabsOption) *TabsView {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &TabsView{
		weather:      weather,
		locations:    locations,
		logger:       logger,
		fetchTimeout: DefaultFetchTimeout,
		generations:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// OnChange registers fn to run after every state transition. fn runs on the
// goroutine that caused the change and must not block.
func (v *TabsView) OnChange(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// Init reconciles against the saved locations. It returns ErrNoLocations when
// there are none.
func (v *TabsView) Init(ctx context.Context) error {
	zips := v.locations.ZipCodes()
	if len(zips) == 0 {
		v.Reconcile(ctx, nil)
		return ErrNoLocations
	}
	v.Reconcile(ctx, zips)
	return nil
}

// Reconcile makes the state list match zipCodes. Entries that already hold
// weather are kept as they are; every other ZIP gets a fresh entry and one
// background fetch. Duplicates collapse to their first occurrence.
func (v *TabsView) Reconcile(ctx context.Context, zipCodes []string) {
	v.mu.Lock()
	existing := make(map[string]models.WeatherFetchState, len(v.states))
	for _, st := range v.states {
		existing[st.ZipCode] = st
	}

	next := make([]models.WeatherFetchState, 0, len(zipCodes))
	seen := make(map[string]struct{}, len(zipCodes))
	var launch []fetchTicket
	for _, zip := range zipCodes {
		if _, dup := seen[zip]; dup {
			continue
		}
		seen[zip] = struct{}{}

		if st, ok := existing[zip]; ok && st.Weather != nil {
			next = append(next, st)
			continue
		}
		next = append(next, models.WeatherFetchState{ZipCode: zip})
		launch = append(launch, v.ticketLocked(zip, modeBackground))
	}

	for zip := range v.generations {
		if _, ok := seen[zip]; !ok {
			delete(v.generations, zip)
		}
	}

	v.states = next
	if _, ok := seen[v.selected]; !ok {
		v.selected = ""
		if len(next) > 0 {
			v.selected = next[0].ZipCode
		}
	}
	v.mu.Unlock()

	for _, t := range launch {
		v.fetch(ctx, t)
	}
	v.notify()
}

// Refresh drops the cached weather for zipCode and refetches it, showing the
// loading state meanwhile. A saved ZIP the view has not picked up yet is
// adopted first.
func (v *TabsView) Refresh(ctx context.Context, zipCode string) error {
	if !v.ensure(ctx, zipCode) {
		return ErrTabNotFound
	}

	v.weather.InvalidateCache(ctx, zipCode)

	v.mu.Lock()
	i := v.indexLocked(zipCode)
	if i < 0 {
		v.mu.Unlock()
		return ErrTabNotFound
	}
	v.states[i] = models.WeatherFetchState{ZipCode: zipCode, Loading: true}
	t := v.ticketLocked(zipCode, modeRefresh)
	v.mu.Unlock()

	v.fetch(ctx, t)
	v.notify()
	return nil
}

func (v *TabsView) Select(zipCode string) error {
	if !v.ensure(context.Background(), zipCode) {
		return ErrTabNotFound
	}
	v.mu.Lock()
	if v.indexLocked(zipCode) < 0 {
		v.mu.Unlock()
		return ErrTabNotFound
	}
	changed := v.selected != zipCode
	v.selected = zipCode
	v.mu.Unlock()

	if changed {
		v.notify()
	}
	return nil
}

// Close removes zipCode from the saved locations and from the view. When the
// closed tab was selected the first remaining tab is selected. ErrNoLocations
// is returned once the last tab is closed.
func (v *TabsView) Close(zipCode string) error {
	v.mu.Lock()
	known := v.indexLocked(zipCode) >= 0
	v.mu.Unlock()
	if !known && !v.locations.Has(zipCode) {
		return ErrTabNotFound
	}

	v.locations.Remove(zipCode)

	v.mu.Lock()
	if i := v.indexLocked(zipCode); i >= 0 {
		v.states = append(v.states[:i:i], v.states[i+1:]...)
	}
	delete(v.generations, zipCode)
	if v.selected == zipCode {
		v.selected = ""
		if len(v.states) > 0 {
			v.selected = v.states[0].ZipCode
		}
	}
	remaining := len(v.states)
	v.mu.Unlock()

	v.notify()
	if remaining == 0 {
		return ErrNoLocations
	}
	return nil
}

// States returns a copy of the per-location fetch states in tab order.
func (v *TabsView) States() []models.WeatherFetchState {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.WeatherFetchState, len(v.states))
	for i, st := range v.states {
		out[i] = copyState(st)
	}
	return out
}

// Tabs derives the tab strip: the city name once known, else the ZIP.
func (v *TabsView) Tabs() []models.Tab {
	v.mu.Lock()
	defer v.mu.Unlock()
	tabs := make([]models.Tab, 0, len(v.states))
	for _, st := range v.states {
		title := st.ZipCode
		if st.Weather != nil && st.Weather.CityName != "" {
			title = st.Weather.CityName
		}
		tabs = append(tabs, models.Tab{ID: st.ZipCode, Title: title, Closable: true})
	}
	return tabs
}

func (v *TabsView) Selected() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected, v.selected != ""
}

func (v *TabsView) SelectedState() (models.WeatherFetchState, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexLocked(v.selected); i >= 0 {
		return copyState(v.states[i]), true
	}
	return models.WeatherFetchState{}, false
}

// Wait blocks until every fetch started so far has completed.
func (v *TabsView) Wait() {
	v.inflight.Wait()
}

type fetchTicket struct {
	zipCode    string
	generation uint64
	mode       string
}

func (v *TabsView) ticketLocked(zipCode, mode string) fetchTicket {
	v.nextGen++
	v.generations[zipCode] = v.nextGen
	v.inflight.Add(1)
	return fetchTicket{zipCode: zipCode, generation: v.nextGen, mode: mode}
}

// fetch must be preceded by ticketLocked, which accounts for it in inflight.
func (v *TabsView) fetch(ctx context.Context, t fetchTicket) {
	go func() {
		defer v.inflight.Done()
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.fetchTimeout)
		defer cancel()

		weather, err := v.weather.GetCurrent(fetchCtx, t.zipCode)
		v.complete(ctx, t, weather, err)
	}()
}

func (v *TabsView) complete(ctx context.Context, t fetchTicket, weather models.CurrentWeather, err error) {
	logger := observability.LoggerFromContext(ctx, v.logger)

	v.mu.Lock()
	i := v.indexLocked(t.zipCode)
	if v.generations[t.zipCode] != t.generation || i < 0 {
		v.mu.Unlock()
		observability.TabFetchesTotal.WithLabelValues(t.mode, "stale").Inc()
		logger.Debug("discarding stale fetch", zap.String("zipCode", t.zipCode), zap.Uint64("generation", t.generation))
		return
	}

	if err != nil {
		v.states[i].Loading = false
		v.states[i].Error = client.Message(err)
	} else {
		w := weather
		v.states[i] = models.WeatherFetchState{ZipCode: t.zipCode, Weather: &w}
	}
	v.mu.Unlock()

	if err != nil {
		observability.TabFetchesTotal.WithLabelValues(t.mode, "error").Inc()
		logger.Info("tab fetch failed", zap.String("zipCode", t.zipCode), zap.String("mode", t.mode), zap.Error(err))
	} else {
		observability.TabFetchesTotal.WithLabelValues(t.mode, "success").Inc()
	}
	v.notify()
}

// ensure reports whether zipCode has a tab, reconciling against the saved
// locations when the view does not know a ZIP the store holds.
func (v *TabsView) ensure(ctx context.Context, zipCode string) bool {
	v.mu.Lock()
	known := v.indexLocked(zipCode) >= 0
	v.mu.Unlock()
	if known {
		return true
	}
	if !v.locations.Has(zipCode) {
		return false
	}
	v.Reconcile(ctx, v.locations.ZipCodes())

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.indexLocked(zipCode) >= 0
}

func (v *TabsView) indexLocked(zipCode string) int {
	for i, st := range v.states {
		if st.ZipCode == zipCode {
			return i
		}
	}
	return -1
}

func (v *TabsView) notify() {
	v.mu.Lock()
	listeners := append([]func(){}, v.listeners...)
	v.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func copyState(st models.WeatherFetchState) models.WeatherFetchState {
	if st.Weather != nil {
		w := *st.Weather
		st.Weather = &w
	}
	return st
}
