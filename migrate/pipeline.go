// Package migrate evolves persisted values across releases. A Pipeline runs
// its steps once per successful load, in registration order, before the value
// reaches the observable state.
package migrate

import (
	"fmt"
)

// Step transforms raw persisted data. Returning nil means the step does not
// apply and the working value passes through unchanged.
type Step interface {
	Migrate(raw any) (any, error)
}

// StepFunc allows plain functions to satisfy Step.
type StepFunc func(raw any) (any, error)

// Migrate dispatches to the underlying function.
func (fn StepFunc) Migrate(raw any) (any, error) {
	if fn == nil {
		return nil, nil
	}
	return fn(raw)
}

// StepError reports which step aborted a pipeline run.
type StepError struct {
	Index int
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Name != "" {
		return fmt.Sprintf("migrate: step %d (%s): %v", e.Index, e.Name, e.Err)
	}
	return fmt.Sprintf("migrate: step %d: %v", e.Index, e.Err)
}

func (e *StepError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type namedStep struct {
	name string
	step Step
}

// Pipeline is an ordered list of migration steps.
type Pipeline struct {
	steps []namedStep
}

// New builds a pipeline from steps, dropping nil entries.
func New(steps ...Step) *Pipeline {
	p := &Pipeline{}
	for _, step := range steps {
		p.Use(step)
	}
	return p
}

// Use appends step to the pipeline.
func (p *Pipeline) Use(step Step) *Pipeline {
	return p.UseNamed("", step)
}

// UseNamed appends step under name, which is reported in StepError.
func (p *Pipeline) UseNamed(name string, step Step) *Pipeline {
	if step == nil {
		return p
	}
	p.steps = append(p.steps, namedStep{name: name, step: step})
	return p
}

// Len returns the number of registered steps.
func (p *Pipeline) Len() int {
	if p == nil {
		return 0
	}
	return len(p.steps)
}

// Apply runs every step over raw. The first failing (or panicking) step stops
// the run; the caller decides what to do with the pre-migration value.
func (p *Pipeline) Apply(raw any) (any, error) {
	if p == nil {
		return raw, nil
	}
	current := raw
	for i, entry := range p.steps {
		next, err := runStep(entry.step, current)
		if err != nil {
			return raw, &StepError{Index: i, Name: entry.name, Err: err}
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

func runStep(step Step, raw any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Migrate(raw)
}
