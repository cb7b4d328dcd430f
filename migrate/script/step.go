package script

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-stash/migrate"
)

// NewEvaluator returns the evaluator registered for engine. The engine name is
// case-insensitive and defaults to expr when empty.
func NewEvaluator(engine string, opts ...EvaluatorOption) (Evaluator, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineExpr:
		return NewExprEvaluator(opts...), nil
	case EngineCEL:
		return NewCELEvaluator(opts...), nil
	case EngineJS, "javascript", "goja":
		return NewJSEvaluator(opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
}

// StepOption configures a scripted step.
type StepOption func(*scriptStep)

// WithArgs exposes static arguments to the script as `args`.
func WithArgs(args map[string]any) StepOption {
	return func(s *scriptStep) {
		s.args = args
	}
}

// WithMetadata exposes static metadata to the script as `metadata`.
func WithMetadata(metadata map[string]any) StepOption {
	return func(s *scriptStep) {
		s.metadata = metadata
	}
}

// WithLogger records each evaluation at debug level.
func WithLogger(logger *zap.Logger) StepOption {
	return func(s *scriptStep) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time bound to `now`.
func WithClock(now func() time.Time) StepOption {
	return func(s *scriptStep) {
		if now != nil {
			s.now = now
		}
	}
}

type scriptStep struct {
	engine     string
	expression string
	rule       CompiledRule
	args       map[string]any
	metadata   map[string]any
	now        func() time.Time
	logger     *zap.Logger
}

// NewStep compiles expression with evaluator and returns it as a migration
// step. Compilation errors surface here rather than on first load.
func NewStep(evaluator Evaluator, expression string, opts ...StepOption) (migrate.Step, error) {
	if evaluator == nil {
		return nil, fmt.Errorf("script: evaluator is required")
	}
	rule, err := evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	step := &scriptStep{
		engine:     evaluator.Engine(),
		expression: expression,
		rule:       rule,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(step)
		}
	}
	return step, nil
}

// Migrate evaluates the script against raw.
func (s *scriptStep) Migrate(raw any) (any, error) {
	now := s.now()
	start := time.Now()
	out, err := s.rule.Evaluate(RuleContext{
		Value:    raw,
		Now:      &now,
		Args:     s.args,
		Metadata: s.metadata,
	})
	s.logger.Debug("script step evaluated",
		zap.String("engine", s.engine),
		zap.String("expression", s.expression),
		zap.Duration("duration", time.Since(start)),
		zap.Bool("applied", err == nil && out != nil),
		zap.Error(err),
	)
	return out, err
}
