package actions

import (
	"context"
	"encoding/json"
)

// Step is a single integration an action node dispatches to by its
// `actionType`. The same registry entry drives both the interpreter
// (Execute) and the compiler (Emitter).
type Step interface {
	Name() string
	Schema() StepSchema
	Execute(ctx context.Context, input StepInput) (*StepOutput, error)
	Emitter() Emitter
}

// StepRegistry manages step registration and lookup.
type StepRegistry interface {
	Register(step Step) error
	Get(name string) (Step, error)
	List() []StepInfo
	Has(name string) bool
}

// StepSchema describes the config a step accepts and the data it returns.
// ConfigSchema is compiled when the step is registered.
type StepSchema struct {
	Description  string          `json:"description"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// StepInput is the resolved config of one action node. Credentials hold the
// bundle fetched for this invocation only.
type StepInput struct {
	NodeID      string            `json:"node_id"`
	Config      map[string]any    `json:"config"`
	Credentials map[string]string `json:"-"`
}

// StepOutput is the result of a successful step. A failing step returns an
// error instead.
type StepOutput struct {
	Data any `json:"data"`
}

// Emitter is the call-emission rule of a step in generated source:
// `await <Function>(<Args...>)` with Function imported from Import. Args name
// config keys in call order; an empty Args passes the whole config as a
// single object.
type Emitter struct {
	Import   string   `json:"import"`
	Function string   `json:"function"`
	Args     []string `json:"args,omitempty"`
}

// StepInfo is a summary of a registered step.
type StepInfo struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Emitter     Emitter `json:"emitter"`
}

// RuntimeModule is the import path of the generated-code counterparts of the
// builtin steps.
const RuntimeModule = "@flowforge/runtime"
