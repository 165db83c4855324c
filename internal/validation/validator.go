package validation

import "github.com/rendis/flowforge/pkg/schema"

// Validator checks graphs before they run or compile, and resolved step
// configs against their JSON Schema (Draft 2020-12).
type Validator interface {
	ValidateGraph(def *schema.Graph) error
	ValidateConfig(config map[string]any, configSchema []byte) error
}

// ActionLookup reports whether an action type is registered.
type ActionLookup interface {
	Has(actionType string) bool
}
