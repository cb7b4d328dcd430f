package stash

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-stash/migrate"
	"github.com/goliatone/go-stash/pkg/activity"
)

type preferences struct {
	Theme    string   `json:"theme"`
	FontSize int      `json:"fontSize"`
	Tags     []string `json:"tags,omitempty"`
}

func defaultPreferences() preferences {
	return preferences{Theme: "light", FontSize: 12}
}

func mustNew[T any](t *testing.T, key string, def T, opts ...Option) *Helper[T] {
	t.Helper()
	h, err := New(key, def, opts...)
	if err != nil {
		t.Fatalf("new helper: %v", err)
	}
	return h
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New("  ", defaultPreferences()); !errors.Is(err, ErrKeyRequired) {
		t.Fatalf("expected ErrKeyRequired, got %v", err)
	}
}

func TestDefaultFallbackBeforeAndAfterLoad(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))

	if got := h.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected default before load, got %+v", got)
	}
	if h.Initialized() || h.Loaded() {
		t.Fatalf("expected fresh helper to be idle")
	}

	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected default after empty load, got %+v", got)
	}
	if !h.Initialized() || !h.Loaded() || h.Loading() {
		t.Fatalf("unexpected flags initialized=%v loaded=%v loading=%v", h.Initialized(), h.Loaded(), h.Loading())
	}
}

func TestLoadDeduplicatesConcurrentCalls(t *testing.T) {
	adapter := newCountingAdapter()
	gate := adapter.blockGets()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- h.Load(context.Background())
	}()
	if err := adapter.waitEntered(time.Second); err != nil {
		t.Fatal(err)
	}
	if !h.Loading() {
		t.Fatalf("expected loading flag while fetch is in flight")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- h.Load(context.Background())
	}()
	// give the second caller time to join the in-flight fetch
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if got := adapter.gets.Load(); got != 1 {
		t.Fatalf("expected exactly one GetItem, got %d", got)
	}

	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load after completion: %v", err)
	}
	if got := adapter.gets.Load(); got != 1 {
		t.Fatalf("expected completed load to be reused, got %d GetItem calls", got)
	}
}

func TestLoadCallerCancellationDoesNotAbortFetch(t *testing.T) {
	adapter := newCountingAdapter()
	gate := adapter.blockGets()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- h.Load(ctx)
	}()
	if err := adapter.waitEntered(time.Second); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-result; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(gate)
	if err := h.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !h.Loaded() {
		t.Fatalf("expected fetch to complete after caller left")
	}
}

func TestRoundTripWithForcedLoad(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(0))

	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := preferences{Theme: "dark", FontSize: 16, Tags: []string{"a", "b"}}
	h.Set(want)

	if err := h.Load(context.Background(), WithForce()); err != nil {
		t.Fatalf("forced load: %v", err)
	}
	if got := adapter.gets.Load(); got != 2 {
		t.Fatalf("expected forced load to fetch again, got %d GetItem calls", got)
	}
	if got := h.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\nwant: %+v\n got: %+v", want, got)
	}

	other := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))
	if err := other.Load(context.Background()); err != nil {
		t.Fatalf("load other: %v", err)
	}
	if got := other.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected fresh helper to read persisted value, got %+v", got)
	}
}

func TestLoadShallowMergesOverCurrentRecord(t *testing.T) {
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "preferences", map[string]any{"theme": "dark"})

	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := preferences{Theme: "dark", FontSize: 12}
	if got := h.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stored keys over defaults, got %+v", got)
	}
	if got := adapter.sets.Load(); got != 0 {
		t.Fatalf("expected load to never persist, got %d SetItem calls", got)
	}
}

func TestLoadReplacesNonRecordValues(t *testing.T) {
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "history", []any{"x"})

	h := mustNew(t, "history", []string{"a", "b"}, WithAdapter(adapter))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := h.Get(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Fatalf("expected stored list to replace default, got %#v", got)
	}
}

func TestMergeShallowAndDeep(t *testing.T) {
	def := map[string]any{
		"a": float64(1),
		"b": map[string]any{"c": float64(1), "d": float64(1)},
	}

	shallow := mustNew(t, "settings", def)
	if err := shallow.Merge(map[string]any{"b": map[string]any{"c": 2}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	wantShallow := map[string]any{
		"a": float64(1),
		"b": map[string]any{"c": float64(2)},
	}
	if got := shallow.Get(); !reflect.DeepEqual(got, wantShallow) {
		t.Fatalf("shallow merge mismatch:\nwant: %#v\n got: %#v", wantShallow, got)
	}

	deep := mustNew(t, "settings", def)
	if err := deep.Merge(map[string]any{"b": map[string]any{"c": 2}}, Deep()); err != nil {
		t.Fatalf("deep merge: %v", err)
	}
	wantDeep := map[string]any{
		"a": float64(1),
		"b": map[string]any{"c": float64(2), "d": float64(1)},
	}
	if got := deep.Get(); !reflect.DeepEqual(got, wantDeep) {
		t.Fatalf("deep merge mismatch:\nwant: %#v\n got: %#v", wantDeep, got)
	}

	if def["b"].(map[string]any)["c"] != float64(1) {
		t.Fatalf("expected default value untouched, got %#v", def)
	}
}

func TestMergeExplicitNullClearsInBothModes(t *testing.T) {
	def := map[string]any{
		"a": float64(1),
		"b": map[string]any{"c": float64(1)},
	}
	for name, opts := range map[string][]MergeOption{
		"shallow": nil,
		"deep":    {Deep()},
	} {
		h := mustNew(t, "settings", def)
		if err := h.Merge(map[string]any{"a": nil}, opts...); err != nil {
			t.Fatalf("%s merge: %v", name, err)
		}
		want := map[string]any{
			"a": nil,
			"b": map[string]any{"c": float64(1)},
		}
		if got := h.Get(); !reflect.DeepEqual(got, want) {
			t.Fatalf("%s merge mismatch:\nwant: %#v\n got: %#v", name, want, got)
		}
	}
}

func TestMergeIntoStruct(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences())
	if err := h.Merge(map[string]any{"fontSize": 20}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := preferences{Theme: "light", FontSize: 20}
	if got := h.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected partial applied, got %+v", got)
	}

	if err := h.Merge(map[string]any{"fontSize": "big"}); err == nil {
		t.Fatalf("expected decode error for mistyped partial")
	}
	if got := h.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected value unchanged after rejected merge, got %+v", got)
	}
}

func TestMergeNonRecordReplaces(t *testing.T) {
	h := mustNew(t, "history", []string{"a"})
	if err := h.Merge([]string{"b", "c"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := h.Get(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("expected replace, got %#v", got)
	}
}

func TestSetBeforeFirstLoadIsNotPersisted(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(0))

	h.Set(preferences{Theme: "dark"})
	if got := adapter.sets.Load(); got != 0 {
		t.Fatalf("expected no save before first load, got %d", got)
	}
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := adapter.sets.Load(); got != 0 {
		t.Fatalf("expected nothing pending before first load, got %d", got)
	}
}

func TestSilentApplyNeverPersists(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(5*time.Millisecond))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := h.ApplyRaw(map[string]any{"theme": "remote", "fontSize": 9}, Silent()); err != nil {
		t.Fatalf("apply raw: %v", err)
	}
	h.Set(preferences{Theme: "silent"}, Silent())
	h.Reset(Silent())

	time.Sleep(30 * time.Millisecond)
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := adapter.sets.Load(); got != 0 {
		t.Fatalf("expected silent writes to skip SetItem, got %d calls", got)
	}
	if got := h.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected silent reset applied, got %+v", got)
	}
}

func TestSilentApplyCancelsPendingSave(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(time.Hour))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	h.Set(preferences{Theme: "local"})
	if err := h.ApplyRaw(map[string]any{"theme": "remote"}, Silent()); err != nil {
		t.Fatalf("apply raw: %v", err)
	}
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := adapter.sets.Load(); got != 0 {
		t.Fatalf("expected pending save cancelled, got %d SetItem calls", got)
	}
	if got := h.Get().Theme; got != "remote" {
		t.Fatalf("expected remote value, got %q", got)
	}
}

func TestDebouncedSavesCoalesce(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(time.Hour))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	h.Set(preferences{Theme: "one"})
	if err := h.Merge(map[string]any{"theme": "two"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := h.Merge(map[string]any{"fontSize": 30}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if got := adapter.sets.Load(); got != 1 {
		t.Fatalf("expected one coalesced SetItem, got %d", got)
	}
	stored, _ := adapter.store.GetItem(context.Background(), "preferences")
	want := map[string]any{"theme": "two", "fontSize": float64(30)}
	if !reflect.DeepEqual(stored, want) {
		t.Fatalf("unexpected stored value %#v", stored)
	}
}

func TestDebouncedSaveFiresAfterDelay(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(5*time.Millisecond))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.Set(preferences{Theme: "dark"})

	deadline := time.Now().Add(time.Second)
	for adapter.sets.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected debounced save to fire")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSaveFailureKeepsValueAndRetriesOnNextMutation(t *testing.T) {
	adapter := newCountingAdapter()
	observer := &recordingObserver{}
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(0), WithObserver(observer))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	boom := errors.New("quota exceeded")
	adapter.failSets(boom)
	h.Set(preferences{Theme: "dark"})
	if got := h.Get().Theme; got != "dark" {
		t.Fatalf("expected value kept in memory, got %q", got)
	}
	_, saves := observer.snapshot()
	if len(saves) != 1 || !errors.Is(saves[0].Err, boom) {
		t.Fatalf("expected failed save reported, got %+v", saves)
	}

	adapter.failSets(nil)
	h.Set(preferences{Theme: "darker"})
	stored, _ := adapter.store.GetItem(context.Background(), "preferences")
	if stored.(map[string]any)["theme"] != "darker" {
		t.Fatalf("expected next mutation persisted, got %#v", stored)
	}
}

func TestAdapterLoadFailureResolves(t *testing.T) {
	adapter := newCountingAdapter()
	adapter.failGets(errors.New("backend offline"))
	observer := &recordingObserver{}
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithObserver(observer))

	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("expected load to resolve, got %v", err)
	}
	select {
	case <-h.WhenReady():
	default:
		t.Fatalf("expected WhenReady closed after failed load")
	}
	if got := h.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected default kept, got %+v", got)
	}
	loads, _ := observer.snapshot()
	if len(loads) != 1 || loads[0].Err == nil {
		t.Fatalf("expected failed load observed, got %+v", loads)
	}
}

func TestMigrationsRunBeforeMerge(t *testing.T) {
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "preferences", map[string]any{
		"version": float64(1),
		"data":    map[string]any{"colour": "dark"},
	})

	h := mustNew(t, "preferences", defaultPreferences(),
		WithAdapter(adapter),
		WithMigrations(
			migrate.UnwrapEnvelope("data", "version"),
			migrate.RenameField("colour", "theme"),
		),
	)
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := preferences{Theme: "dark", FontSize: 12}
	if got := h.Get(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected migrated value, got %+v", got)
	}
}

func TestMigrationFailureKeepsPreMigrationValue(t *testing.T) {
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "preferences", map[string]any{"theme": "dark"})
	observer := &recordingObserver{}

	h := mustNew(t, "preferences", defaultPreferences(),
		WithAdapter(adapter),
		WithObserver(observer),
		WithPipeline(migrate.New().
			UseNamed("tag", migrate.StepFunc(func(raw any) (any, error) { return raw, nil })).
			UseNamed("explode", migrate.StepFunc(func(any) (any, error) { panic("bad shape") })),
		),
	)
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("expected load to resolve, got %v", err)
	}
	if !h.Loaded() {
		t.Fatalf("expected loaded after migration failure")
	}
	if got := h.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected pre-migration value, got %+v", got)
	}

	loads, _ := observer.snapshot()
	var stepErr *migrate.StepError
	if len(loads) != 1 || !errors.As(loads[0].MigrationErr, &stepErr) || stepErr.Name != "explode" {
		t.Fatalf("expected migration error observed, got %+v", loads)
	}
}

func TestResetAndIsDefaultValue(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences())
	if !h.IsDefaultValue(h.Get()) {
		t.Fatalf("expected fresh value to equal default")
	}
	h.Set(preferences{Theme: "dark", FontSize: 12})
	if h.IsDefaultValue(h.Get()) {
		t.Fatalf("expected changed value to differ from default")
	}
	h.Reset()
	if !h.IsDefaultValue(h.Get()) {
		t.Fatalf("expected reset to restore default, got %+v", h.Get())
	}
}

func TestToJSIsDetached(t *testing.T) {
	h := mustNew(t, "preferences", preferences{Tags: []string{"a"}})
	snapshot := h.ToJS()
	snapshot.Tags[0] = "changed"
	if h.Get().Tags[0] != "a" {
		t.Fatalf("expected ToJS snapshot detached from helper state")
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences())
	var seen []string
	unsubscribe := h.Subscribe(func(value preferences) {
		seen = append(seen, value.Theme)
	})

	h.Set(preferences{Theme: "dark"})
	h.Set(preferences{Theme: "remote"}, Silent())
	unsubscribe()
	unsubscribe()
	h.Set(preferences{Theme: "ignored"})

	if !reflect.DeepEqual(seen, []string{"dark", "remote"}) {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

func TestReadyHonoursContext(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := h.Ready(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded before load, got %v", err)
	}
}

func TestAutoLoad(t *testing.T) {
	adapter := newCountingAdapter()
	_ = adapter.store.SetItem(context.Background(), "preferences", map[string]any{"theme": "dark"})
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithAutoLoad())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if got := h.Get().Theme; got != "dark" {
		t.Fatalf("expected auto-loaded value, got %q", got)
	}
}

func TestOnSavedRunsInOrderWithPersistedValue(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences(), WithSaveDelay(0))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	var themes []any
	remove := h.OnSaved(func(_ context.Context, raw any) {
		themes = append(themes, raw.(map[string]any)["theme"])
	})
	h.Set(preferences{Theme: "a"})
	h.Set(preferences{Theme: "b"})
	remove()
	h.Set(preferences{Theme: "c"})

	if !reflect.DeepEqual(themes, []any{"a", "b"}) {
		t.Fatalf("unexpected saved callbacks %v", themes)
	}
}

func TestSilentApplyDuringSaveRestoresSavedValue(t *testing.T) {
	adapter := newCountingAdapter()
	h := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithSaveDelay(0))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	gate := adapter.blockSets()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Set(preferences{Theme: "local"})
	}()
	if err := adapter.waitEntered(time.Second); err != nil {
		t.Fatal(err)
	}
	if !h.Saving() {
		t.Fatalf("expected saving flag during SetItem")
	}
	if err := h.ApplyRaw(map[string]any{"theme": "remote"}, Silent()); err != nil {
		t.Fatalf("apply raw: %v", err)
	}
	if got := h.Get().Theme; got != "remote" {
		t.Fatalf("expected remote value visible during save, got %q", got)
	}

	adapter.mu.Lock()
	adapter.setGate = nil
	adapter.mu.Unlock()
	close(gate)
	<-done

	if got := h.Get().Theme; got != "local" {
		t.Fatalf("expected last persisted value restored, got %q", got)
	}
	stored, _ := adapter.store.GetItem(context.Background(), "preferences")
	if stored.(map[string]any)["theme"] != "local" {
		t.Fatalf("expected backend to hold local value, got %#v", stored)
	}
}

func TestActivityHooksReceiveLifecycleEvents(t *testing.T) {
	capture := &activity.CaptureHook{}
	h := mustNew(t, "preferences", defaultPreferences(), WithSaveDelay(0), WithActivityHooks(activity.Hooks{nil, capture}))
	if err := h.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	h.Set(preferences{Theme: "dark"})

	if len(capture.Events) != 2 {
		t.Fatalf("expected loaded and saved events, got %+v", capture.Events)
	}
	if capture.Events[0].Verb != activity.VerbLoaded || capture.Events[1].Verb != activity.VerbSaved {
		t.Fatalf("unexpected verbs %q, %q", capture.Events[0].Verb, capture.Events[1].Verb)
	}
	if capture.Events[1].ObjectID != "local/preferences" || capture.Events[1].Channel != activity.DefaultChannel {
		t.Fatalf("unexpected saved event %+v", capture.Events[1])
	}
}

func TestStrictDecodingRejectsUnknownFields(t *testing.T) {
	adapter := newCountingAdapter()
	if err := adapter.store.SetItem(context.Background(), "preferences", map[string]any{
		"theme": "dark", "legacyColor": "red",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	strict := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter), WithStrictDecoding())
	if err := strict.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := strict.Get(); !reflect.DeepEqual(got, defaultPreferences()) {
		t.Fatalf("expected strict helper to keep default, got %+v", got)
	}
	if err := strict.ApplyRaw(map[string]any{"theme": "dark", "extra": true}, Silent()); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}

	lenient := mustNew(t, "preferences", defaultPreferences(), WithAdapter(adapter))
	if err := lenient.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := lenient.Get().Theme; got != "dark" {
		t.Fatalf("expected lenient helper to load theme, got %q", got)
	}
}

func TestValidatorAndNormalizerRunOnEveryDecode(t *testing.T) {
	h := mustNew(t, "preferences", defaultPreferences(),
		WithNormalizer(func(raw any) (any, error) {
			record, ok := raw.(map[string]any)
			if !ok {
				return nil, nil
			}
			if size, ok := record["size"]; ok {
				record["fontSize"] = size
				delete(record, "size")
			}
			return record, nil
		}),
		WithValidator(func(p preferences) error {
			if p.FontSize <= 0 {
				return errors.New("font size must be positive")
			}
			return nil
		}),
	)

	if err := h.ApplyRaw(map[string]any{"theme": "dark", "size": 16}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := h.Get(); got.FontSize != 16 || got.Theme != "dark" {
		t.Fatalf("expected normalised payload, got %+v", got)
	}

	if err := h.Merge(map[string]any{"fontSize": 0}); err == nil {
		t.Fatalf("expected validator to reject merge")
	}
	if got := h.Get().FontSize; got != 16 {
		t.Fatalf("expected value unchanged after rejection, got %d", got)
	}
}

func TestDecodeFuncReplacesJSONDecoding(t *testing.T) {
	h := mustNew(t, "theme", "light", WithDecodeFunc(func(raw any) (string, error) {
		if record, ok := raw.(map[string]any); ok {
			if name, ok := record["name"].(string); ok {
				return name, nil
			}
		}
		if name, ok := raw.(string); ok {
			return name, nil
		}
		return "", errors.New("unsupported theme payload")
	}))

	if err := h.ApplyRaw(map[string]any{"name": "dark"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := h.Get(); got != "dark" {
		t.Fatalf("expected decoded name, got %q", got)
	}
}

func TestDecoderOptionTypeMismatch(t *testing.T) {
	_, err := New("preferences", defaultPreferences(), WithValidator(func(string) error { return nil }))
	if !errors.Is(err, ErrDecoderType) {
		t.Fatalf("expected ErrDecoderType, got %v", err)
	}
}
