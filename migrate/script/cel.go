package script

import (
	"fmt"
	"reflect"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"google.golang.org/protobuf/types/known/structpb"
)

var jsonValueType = reflect.TypeOf(&structpb.Value{})

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. CEL scripts only
// see the reserved bindings; fields are reached through `value`.
func NewCELEvaluator(opts ...EvaluatorOption) Evaluator {
	cfg := applyEvaluatorOptions(opts)
	return &celEvaluator{
		cache:    cfg.cache,
		registry: cfg.registry,
	}
}

func (e *celEvaluator) Engine() string {
	return EngineCEL
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *celEvaluator) Compile(expression string) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluationError(EngineCEL, expression, fmt.Errorf("expression must not be empty"))
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, err)
	}
	return &celCompiledRule{
		program:    program,
		expression: expression,
	}, nil
}

func (e *celEvaluator) loadOrCompile(expression string) (celgo.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get(expression); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(expression, program)
	}
	return program, nil
}

func (e *celEvaluator) buildEnv() (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("value", celgo.DynType),
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string_list",
				[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
				celgo.DynType,
				celgo.BinaryBinding(e.callBinding),
			),
		))
	}
	return celgo.NewEnv(opts...)
}

// callBinding exposes the registry as call("name", [args...]).
func (e *celEvaluator) callBinding(lhs, rhs ref.Val) ref.Val {
	name, ok := lhs.Value().(string)
	if !ok {
		return types.NewErr("script: call name must be string")
	}
	var args []any
	if lister, ok := rhs.(traits.Lister); ok {
		size, _ := lister.Size().(types.Int)
		for i := types.Int(0); i < size; i++ {
			args = append(args, lister.Get(i).Value())
		}
	}
	result, err := e.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

type celCompiledRule struct {
	program    celgo.Program
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	out, _, err := r.program.Eval(map[string]any{
		"value":    ctx.Value,
		"now":      *ctx.Now,
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
	})
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, r.expression, err)
	}
	return celResult(out)
}

// celResult converts CEL values back into JSON-shaped Go values.
func celResult(out ref.Val) (any, error) {
	if out == nil || out.Type() == types.NullType {
		return nil, nil
	}
	native, err := out.ConvertToNative(jsonValueType)
	if err != nil {
		return out.Value(), nil
	}
	value, ok := native.(*structpb.Value)
	if !ok {
		return out.Value(), nil
	}
	return value.AsInterface(), nil
}
