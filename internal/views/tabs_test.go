package views

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/kvstore"
	"github.com/kjstillabower/weather-dashboard/internal/location"
	"github.com/kjstillabower/weather-dashboard/internal/models"
)

type fetchResult struct {
	city string
	err  error
}

// fakeWeather answers GetCurrent per ZIP and per call index. A gate, when
// present for a call, holds that call until closed.
type fakeWeather struct {
	mu          sync.Mutex
	results     map[string][]fetchResult
	gates       map[string][]chan struct{}
	calls       map[string]int
	invalidated []string
}

func newFakeWeather() *fakeWeather {
	return &fakeWeather{
		results: make(map[string][]fetchResult),
		gates:   make(map[string][]chan struct{}),
		calls:   make(map[string]int),
	}
}

func (f *fakeWeather) respond(zip string, results ...fetchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[zip] = results
}

func (f *fakeWeather) gate(zip string, gates ...chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[zip] = gates
}

func (f *fakeWeather) GetCurrent(ctx context.Context, zip string) (models.CurrentWeather, error) {
	f.mu.Lock()
	n := f.calls[zip]
	f.calls[zip]++
	var gate chan struct{}
	if n < len(f.gates[zip]) {
		gate = f.gates[zip][n]
	}
	res := fetchResult{city: "City " + zip}
	if rs := f.results[zip]; len(rs) > 0 {
		if n < len(rs) {
			res = rs[n]
		} else {
			res = rs[len(rs)-1]
		}
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if res.err != nil {
		return models.CurrentWeather{}, res.err
	}
	return models.CurrentWeather{CityName: res.city, Temp: 20}, nil
}

func (f *fakeWeather) InvalidateCache(ctx context.Context, zip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, zip)
}

func (f *fakeWeather) callCount(zip string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[zip]
}

func newStore(t *testing.T, zips ...string) *location.Store {
	t.Helper()
	s := location.NewStore(context.Background(), kvstore.NewMemory(kvstore.DefaultMemoryQuota), nil)
	for _, z := range zips {
		if !s.Add(z) {
			t.Fatalf("Add(%q) = false", z)
		}
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTabsView_InitWithoutLocations(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t), nil)
	if err := v.Init(context.Background()); !errors.Is(err, ErrNoLocations) {
		t.Fatalf("Init() error = %v, want ErrNoLocations", err)
	}
	if len(v.States()) != 0 {
		t.Error("expected no states")
	}
	if _, ok := v.Selected(); ok {
		t.Error("expected no selection")
	}
}

func TestTabsView_InitFetchesEveryLocation(t *testing.T) {
	fw := newFakeWeather()
	v := NewTabsView(fw, newStore(t, "90210", "10001"), nil)

	if err := v.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	states := v.States()
	if len(states) != 2 || states[0].ZipCode != "90210" || states[1].ZipCode != "10001" {
		t.Fatalf("States() = %+v", states)
	}
	for _, st := range states {
		if st.Loading {
			t.Errorf("background fetch should not set loading for %s", st.ZipCode)
		}
	}
	if sel, _ := v.Selected(); sel != "90210" {
		t.Errorf("Selected() = %q, want 90210", sel)
	}

	v.Wait()

	for _, st := range v.States() {
		if st.Weather == nil || st.Weather.CityName != "City "+st.ZipCode {
			t.Errorf("state %s weather = %+v", st.ZipCode, st.Weather)
		}
		if st.Error != "" || st.Loading {
			t.Errorf("state %s = %+v", st.ZipCode, st)
		}
	}
	tabs := v.Tabs()
	if len(tabs) != 2 || tabs[0].Title != "City 90210" || tabs[0].ID != "90210" || !tabs[0].Closable {
		t.Errorf("Tabs() = %+v", tabs)
	}
}

func TestTabsView_TabTitleFallsBackToZip(t *testing.T) {
	fw := newFakeWeather()
	gate := make(chan struct{})
	fw.gate("90210", gate)
	v := NewTabsView(fw, newStore(t, "90210"), nil)

	_ = v.Init(context.Background())
	if tabs := v.Tabs(); tabs[0].Title != "90210" {
		t.Errorf("Title = %q, want 90210", tabs[0].Title)
	}
	close(gate)
	v.Wait()
}

func TestTabsView_BackgroundFailure(t *testing.T) {
	fw := newFakeWeather()
	fw.respond("90210", fetchResult{err: &client.Error{Kind: client.ErrNotFound, Message: client.MsgZipNotFound}})
	v := NewTabsView(fw, newStore(t, "90210"), nil)

	_ = v.Init(context.Background())
	v.Wait()

	st, ok := v.SelectedState()
	if !ok {
		t.Fatal("SelectedState() ok = false")
	}
	if st.Error != client.MsgZipNotFound {
		t.Errorf("Error = %q, want %q", st.Error, client.MsgZipNotFound)
	}
	if st.Loading || st.Weather != nil {
		t.Errorf("state = %+v", st)
	}
}

func TestTabsView_ReconcileReusesResolvedEntries(t *testing.T) {
	fw := newFakeWeather()
	store := newStore(t, "90210")
	v := NewTabsView(fw, store, nil)

	_ = v.Init(context.Background())
	v.Wait()

	store.Add("10001")
	_ = v.Init(context.Background())
	v.Wait()

	if n := fw.callCount("90210"); n != 1 {
		t.Errorf("90210 fetched %d times, want 1", n)
	}
	if n := fw.callCount("10001"); n != 1 {
		t.Errorf("10001 fetched %d times, want 1", n)
	}
	if len(v.States()) != 2 {
		t.Errorf("len(States()) = %d, want 2", len(v.States()))
	}
}

func TestTabsView_ReconcileRefetchesFailedEntries(t *testing.T) {
	fw := newFakeWeather()
	fw.respond("90210", fetchResult{err: errors.New("boom")}, fetchResult{city: "Beverly Hills"})
	v := NewTabsView(fw, newStore(t, "90210"), nil)

	_ = v.Init(context.Background())
	v.Wait()
	_ = v.Init(context.Background())
	v.Wait()

	st, _ := v.SelectedState()
	if st.Weather == nil || st.Weather.CityName != "Beverly Hills" || st.Error != "" {
		t.Errorf("state = %+v", st)
	}
}

func TestTabsView_ReconcileCollapsesDuplicates(t *testing.T) {
	fw := newFakeWeather()
	v := NewTabsView(fw, newStore(t), nil)

	v.Reconcile(context.Background(), []string{"90210", "10001", "90210"})
	v.Wait()

	states := v.States()
	if len(states) != 2 {
		t.Fatalf("len(States()) = %d, want 2", len(states))
	}
	if n := fw.callCount("90210"); n != 1 {
		t.Errorf("90210 fetched %d times, want 1", n)
	}
}

func TestTabsView_ReconcileMovesSelection(t *testing.T) {
	fw := newFakeWeather()
	v := NewTabsView(fw, newStore(t), nil)
	ctx := context.Background()

	v.Reconcile(ctx, []string{"90210", "10001"})
	if err := v.Select("10001"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	v.Reconcile(ctx, []string{"90210", "10001", "60601"})
	if sel, _ := v.Selected(); sel != "10001" {
		t.Errorf("Selected() = %q, want 10001 retained", sel)
	}
	v.Reconcile(ctx, []string{"60601", "90210"})
	if sel, _ := v.Selected(); sel != "60601" {
		t.Errorf("Selected() = %q, want first entry 60601", sel)
	}
	v.Wait()
}

func TestTabsView_Refresh(t *testing.T) {
	fw := newFakeWeather()
	fw.respond("90210", fetchResult{city: "Old"}, fetchResult{city: "New"})
	v := NewTabsView(fw, newStore(t, "90210"), nil)
	ctx := context.Background()

	_ = v.Init(ctx)
	v.Wait()

	gate := make(chan struct{})
	fw.gate("90210", nil, gate)
	if err := v.Refresh(ctx, "90210"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	st, _ := v.SelectedState()
	if !st.Loading || st.Weather != nil || st.Error != "" {
		t.Errorf("state during refresh = %+v", st)
	}
	if len(fw.invalidated) != 1 || fw.invalidated[0] != "90210" {
		t.Errorf("invalidated = %v", fw.invalidated)
	}

	close(gate)
	v.Wait()

	st, _ = v.SelectedState()
	if st.Loading || st.Weather == nil || st.Weather.CityName != "New" {
		t.Errorf("state after refresh = %+v", st)
	}
}

func TestTabsView_RefreshFailure(t *testing.T) {
	fw := newFakeWeather()
	fw.respond("90210", fetchResult{city: "Old"}, fetchResult{err: &client.Error{Kind: client.ErrConnectivity, Message: client.MsgConnectivity}})
	v := NewTabsView(fw, newStore(t, "90210"), nil)
	ctx := context.Background()

	_ = v.Init(ctx)
	v.Wait()
	_ = v.Refresh(ctx, "90210")
	v.Wait()

	st, _ := v.SelectedState()
	if st.Loading || st.Weather != nil || st.Error != client.MsgConnectivity {
		t.Errorf("state = %+v", st)
	}
}

func TestTabsView_RefreshUnknownTab(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t), nil)
	if err := v.Refresh(context.Background(), "90210"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("Refresh() error = %v, want ErrTabNotFound", err)
	}
}

func TestTabsView_RefreshAdoptsSavedLocation(t *testing.T) {
	fw := newFakeWeather()
	v := NewTabsView(fw, newStore(t, "90210", "10001"), nil)
	ctx := context.Background()

	if err := v.Refresh(ctx, "10001"); err != nil {
		t.Fatalf("Refresh() before Init error = %v", err)
	}
	v.Wait()

	states := v.States()
	if len(states) != 2 || states[0].ZipCode != "90210" || states[1].ZipCode != "10001" {
		t.Fatalf("States() = %+v, want saved order", states)
	}
	if states[1].Weather == nil || states[1].Weather.CityName != "City 10001" {
		t.Errorf("refreshed state = %+v", states[1])
	}
	if len(fw.invalidated) != 1 || fw.invalidated[0] != "10001" {
		t.Errorf("invalidated = %v", fw.invalidated)
	}
}

func TestTabsView_SelectAdoptsSavedLocation(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t, "90210", "10001"), nil)
	defer v.Wait()

	if err := v.Select("10001"); err != nil {
		t.Fatalf("Select() before Init error = %v", err)
	}
	if sel, _ := v.Selected(); sel != "10001" {
		t.Errorf("Selected() = %q, want 10001", sel)
	}
	if n := len(v.States()); n != 2 {
		t.Errorf("len(States()) = %d, want 2", n)
	}
	if err := v.Select("60601"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("Select(unsaved) error = %v, want ErrTabNotFound", err)
	}
}

func TestTabsView_StaleCompletionDiscarded(t *testing.T) {
	fw := newFakeWeather()
	slow := make(chan struct{})
	fw.gate("90210", slow)
	fw.respond("90210", fetchResult{city: "Stale"}, fetchResult{city: "Fresh"})
	v := NewTabsView(fw, newStore(t, "90210"), nil)
	ctx := context.Background()

	_ = v.Init(ctx)
	if err := v.Refresh(ctx, "90210"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	waitFor(t, func() bool {
		st, _ := v.SelectedState()
		return st.Weather != nil
	})

	close(slow)
	v.Wait()

	st, _ := v.SelectedState()
	if st.Weather == nil || st.Weather.CityName != "Fresh" {
		t.Errorf("state = %+v, want Fresh", st)
	}
}

func TestTabsView_CloseDiscardsInFlightFetch(t *testing.T) {
	fw := newFakeWeather()
	gate := make(chan struct{})
	fw.gate("10001", gate)
	store := newStore(t, "90210", "10001")
	v := NewTabsView(fw, store, nil)

	_ = v.Init(context.Background())
	if err := v.Close("10001"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(gate)
	v.Wait()

	if len(v.States()) != 1 {
		t.Errorf("closed tab reappeared: %+v", v.States())
	}
}

func TestTabsView_Select(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t, "90210", "10001"), nil)
	_ = v.Init(context.Background())
	defer v.Wait()

	if err := v.Select("10001"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel, _ := v.Selected(); sel != "10001" {
		t.Errorf("Selected() = %q, want 10001", sel)
	}
	if err := v.Select("60601"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("Select(unknown) error = %v, want ErrTabNotFound", err)
	}
	if sel, _ := v.Selected(); sel != "10001" {
		t.Errorf("failed Select changed selection to %q", sel)
	}
}

func TestTabsView_Close(t *testing.T) {
	store := newStore(t, "90210", "10001", "60601")
	v := NewTabsView(newFakeWeather(), store, nil)
	_ = v.Init(context.Background())
	v.Wait()

	_ = v.Select("10001")
	if err := v.Close("10001"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if store.Has("10001") {
		t.Error("Close should remove the location from the store")
	}
	if sel, _ := v.Selected(); sel != "90210" {
		t.Errorf("Selected() = %q, want first remaining 90210", sel)
	}

	if err := v.Close("60601"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if sel, _ := v.Selected(); sel != "90210" {
		t.Errorf("closing an unselected tab moved selection to %q", sel)
	}

	if err := v.Close("90210"); !errors.Is(err, ErrNoLocations) {
		t.Errorf("Close(last) error = %v, want ErrNoLocations", err)
	}
	if store.Count() != 0 {
		t.Errorf("store.Count() = %d, want 0", store.Count())
	}
	if _, ok := v.Selected(); ok {
		t.Error("expected no selection after last close")
	}

	if err := v.Close("90210"); !errors.Is(err, ErrTabNotFound) {
		t.Errorf("Close(unknown) error = %v, want ErrTabNotFound", err)
	}
}

func TestTabsView_OnChange(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t, "90210"), nil)
	var changes int32
	v.OnChange(func() { atomic.AddInt32(&changes, 1) })

	_ = v.Init(context.Background())
	v.Wait()

	// reconcile + one completion
	if n := atomic.LoadInt32(&changes); n != 2 {
		t.Errorf("changes = %d, want 2", n)
	}
}

func TestTabsView_StatesAreCopies(t *testing.T) {
	v := NewTabsView(newFakeWeather(), newStore(t, "90210"), nil)
	_ = v.Init(context.Background())
	v.Wait()

	states := v.States()
	states[0].Weather.CityName = "mutated"
	if st, _ := v.SelectedState(); st.Weather.CityName == "mutated" {
		t.Error("States() should not expose internal state")
	}
}
