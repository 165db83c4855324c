package actions

import (
	"sort"
	"sync"

	"github.com/rendis/flowforge/internal/validation"
	"github.com/rendis/flowforge/pkg/schema"
)

// Registry is the concrete thread-safe StepRegistry implementation.
// Every config schema is compiled when its step is registered, so a broken
// catalog fails at startup rather than on the first run.
type Registry struct {
	mu        sync.RWMutex
	steps     map[string]Step
	validator *validation.JSONSchemaValidator
}

// NewRegistry creates an empty Registry. validator may be nil to skip config
// schema checks.
func NewRegistry(validator *validation.JSONSchemaValidator) *Registry {
	return &Registry{
		steps:     make(map[string]Step),
		validator: validator,
	}
}

// Register adds a step to the registry. Returns error on duplicate name or
// when the step's config schema does not compile.
func (r *Registry) Register(step Step) error {
	if step == nil {
		return schema.NewError(schema.ErrCodeValidation, "step is nil")
	}
	name := step.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "step name is empty")
	}
	if em := step.Emitter(); em.Function == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "step %q has no emitter function", name)
	}

	if r.validator != nil {
		if cs := step.Schema().ConfigSchema; len(cs) > 0 {
			if _, err := r.validator.Compile(cs); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation, "step %q: config schema does not compile", name).WithCause(err)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already registered", name)
	}

	r.steps[name] = step
	return nil
}

// Get retrieves a step by action type.
func (r *Registry) Get(name string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.steps[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeActionUnavailable, "action type %q is not registered", name)
	}
	return step, nil
}

// List returns info for all registered steps, sorted by name.
func (r *Registry) List() []StepInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]StepInfo, 0, len(r.steps))
	for _, s := range r.steps {
		infos = append(infos, StepInfo{
			Name:        s.Name(),
			Description: s.Schema().Description,
			Emitter:     s.Emitter(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if a step is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.steps[name]
	return ok
}

// Count returns the number of registered steps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}

// ValidateConfig checks a resolved config against the step's config schema.
func (r *Registry) ValidateConfig(step Step, config map[string]any) error {
	if r.validator == nil {
		return nil
	}
	if err := r.validator.ValidateConfig(config, step.Schema().ConfigSchema); err != nil {
		return err
	}
	return nil
}

var (
	_ StepRegistry            = (*Registry)(nil)
	_ validation.ActionLookup = (*Registry)(nil)
)
