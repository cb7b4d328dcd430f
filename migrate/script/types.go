// Package script builds migration steps from expressions so legacy shapes can
// be described in configuration instead of code. Three engines share one
// Evaluator contract: expr-lang/expr, cel-go and goja (JavaScript).
//
// Every engine sees the raw persisted value as `value`, plus `now`, `args`
// and `metadata`. The expr and JS engines also bind each top-level key of a
// map value directly. A script that evaluates to null/undefined/nil leaves
// the value untouched.
package script

import (
	"sync"
	"time"
)

const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// RuleContext carries the inputs of one evaluation.
type RuleContext struct {
	Value    any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
}

func (ctx RuleContext) withDefaults() RuleContext {
	if ctx.Now == nil {
		now := time.Now()
		ctx.Now = &now
	}
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

// bindings returns the variables visible to expr and JS scripts. Top-level
// keys of a map value never shadow the reserved names.
func (ctx RuleContext) bindings() map[string]any {
	env := map[string]any{
		"value":    ctx.Value,
		"now":      *ctx.Now,
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	}
	if record, ok := ctx.Value.(map[string]any); ok {
		for key, value := range record {
			if _, reserved := env[key]; reserved {
				continue
			}
			env[key] = value
		}
	}
	return env
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Engine() string
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// ProgramCache stores compiled programs keyed by expression.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// MemoryCache is a concurrency-safe ProgramCache.
type MemoryCache struct {
	programs sync.Map
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) Get(key string) (any, bool) {
	return c.programs.Load(key)
}

func (c *MemoryCache) Set(key string, value any) {
	c.programs.Store(key, value)
}

// EvaluatorOption configures any of the evaluators.
type EvaluatorOption func(*evaluatorConfig)

type evaluatorConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// WithProgramCache wires a ProgramCache into the evaluator. Caches must not
// be shared between engines.
func WithProgramCache(cache ProgramCache) EvaluatorOption {
	return func(cfg *evaluatorConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry exposes registry functions to scripts.
func WithFunctionRegistry(registry *FunctionRegistry) EvaluatorOption {
	return func(cfg *evaluatorConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

func applyEvaluatorOptions(opts []EvaluatorOption) evaluatorConfig {
	cfg := evaluatorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
