package stash

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-stash/internal/hydrate"
	"github.com/goliatone/go-stash/migrate"
	"github.com/goliatone/go-stash/pkg/activity"
	"github.com/goliatone/go-stash/pkg/storage"
)

const (
	// DefaultArea is used when WithArea is not supplied.
	DefaultArea = "local"
	// DefaultSaveDelay is the trailing debounce applied to auto-saves.
	DefaultSaveDelay = 25 * time.Millisecond
)

// Option configures a Helper.
type Option func(*config)

type config struct {
	adapter   storage.Adapter
	area      string
	pipeline  *migrate.Pipeline
	logger    *zap.Logger
	observer  Observer
	saveDelay time.Duration
	autoLoad  bool

	activityHooks  activity.Hooks
	activityOrigin string

	strict     bool
	normalize  []hydrate.PreHook
	decodeOpts []any
}

func defaultConfig() config {
	return config{
		area:      DefaultArea,
		logger:    zap.NewNop(),
		observer:  nopObserver{},
		saveDelay: DefaultSaveDelay,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.adapter == nil {
		cfg.adapter = storage.NewMemory()
	}
	return cfg
}

// WithAdapter sets the persistence backend. Defaults to storage.NewMemory.
func WithAdapter(adapter storage.Adapter) Option {
	return func(cfg *config) {
		cfg.adapter = adapter
	}
}

// WithArea sets the storage area identifier carried by sync messages.
func WithArea(area string) Option {
	return func(cfg *config) {
		if area != "" {
			cfg.area = area
		}
	}
}

// WithMigrations appends steps to the helper's migration pipeline.
func WithMigrations(steps ...migrate.Step) Option {
	return func(cfg *config) {
		if cfg.pipeline == nil {
			cfg.pipeline = migrate.New()
		}
		for _, step := range steps {
			cfg.pipeline.Use(step)
		}
	}
}

// WithPipeline replaces the migration pipeline.
func WithPipeline(pipeline *migrate.Pipeline) Option {
	return func(cfg *config) {
		cfg.pipeline = pipeline
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithObserver reports load and save outcomes, e.g. to metrics.
func WithObserver(observer Observer) Option {
	return func(cfg *config) {
		if observer != nil {
			cfg.observer = observer
		}
	}
}

// WithSaveDelay sets the trailing debounce for auto-saves. A delay <= 0
// persists every mutation before Set returns.
func WithSaveDelay(delay time.Duration) Option {
	return func(cfg *config) {
		cfg.saveDelay = delay
	}
}

// WithAutoLoad starts the first load from New.
func WithAutoLoad() Option {
	return func(cfg *config) {
		cfg.autoLoad = true
	}
}

// WithStrictDecoding rejects loaded, merged and synced payloads carrying
// fields the value type does not declare.
func WithStrictDecoding() Option {
	return func(cfg *config) {
		cfg.strict = true
	}
}

// WithNormalizer rewrites every payload before it is decoded. Returning nil
// keeps the payload unchanged.
func WithNormalizer(fn func(raw any) (any, error)) Option {
	return func(cfg *config) {
		if fn == nil {
			return
		}
		cfg.normalize = append(cfg.normalize, func(_ hydrate.Context, raw any) (any, error) {
			return fn(raw)
		})
	}
}

// WithValidator runs fn on every decoded value; an error rejects the value and
// the helper keeps its current one. T must match the helper's type.
func WithValidator[T any](fn func(T) error) Option {
	return func(cfg *config) {
		if fn == nil {
			return
		}
		cfg.decodeOpts = append(cfg.decodeOpts, hydrate.WithPostHook[T](func(_ hydrate.Context, value *T) error {
			return fn(*value)
		}))
	}
}

// WithDecodeFunc replaces JSON decoding of payloads into T.
func WithDecodeFunc[T any](fn func(raw any) (T, error)) Option {
	return func(cfg *config) {
		if fn == nil {
			return
		}
		cfg.decodeOpts = append(cfg.decodeOpts, hydrate.WithCustomDecoder[T](func(_ hydrate.Context, raw any) (T, error) {
			return fn(raw)
		}))
	}
}

func buildDecoder[T any](cfg config) (*hydrate.Decoder[T], error) {
	opts := make([]hydrate.DecoderOption[T], 0, len(cfg.normalize)+len(cfg.decodeOpts)+1)
	for _, hook := range cfg.normalize {
		opts = append(opts, hydrate.WithPreHook[T](hook))
	}
	for _, raw := range cfg.decodeOpts {
		opt, ok := raw.(hydrate.DecoderOption[T])
		if !ok {
			var zero T
			return nil, fmt.Errorf("%w: option for %T used with %T", ErrDecoderType, raw, zero)
		}
		opts = append(opts, opt)
	}
	if cfg.strict {
		opts = append(opts, hydrate.WithDisallowUnknownFields[T]())
	}
	return hydrate.NewDecoder[T](opts...), nil
}

// SetOption configures a single Set, Reset or ApplyRaw call.
type SetOption func(*setOptions)

type setOptions struct {
	silent bool
}

// Silent applies the value without persisting or broadcasting it.
func Silent() SetOption {
	return func(o *setOptions) {
		o.silent = true
	}
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// LoadOption configures a single Load call.
type LoadOption func(*loadOptions)

type loadOptions struct {
	force bool
}

// WithForce starts a fresh fetch even when a load completed or is running.
func WithForce() LoadOption {
	return func(o *loadOptions) {
		o.force = true
	}
}

func applyLoadOptions(opts []LoadOption) loadOptions {
	var o loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// MergeOption configures a single Merge call.
type MergeOption func(*mergeOptions)

type mergeOptions struct {
	deep   bool
	silent bool
}

// Deep merges nested records instead of replacing them.
func Deep() MergeOption {
	return func(o *mergeOptions) {
		o.deep = true
	}
}

// MergeSilent is the Merge counterpart of Silent.
func MergeSilent() MergeOption {
	return func(o *mergeOptions) {
		o.silent = true
	}
}

func applyMergeOptions(opts []MergeOption) mergeOptions {
	var o mergeOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
