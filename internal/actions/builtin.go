package actions

import (
	"log/slog"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/internal/logging"
)

// BuiltinConfig configures the builtin steps.
type BuiltinConfig struct {
	HTTP   HTTPConfig
	Logger *slog.Logger
	// Retry, when set, wraps http.request, the only builtin with transient
	// failures.
	Retry *RetryPolicy
	// Breakers, when set, guards http.request with a circuit breaker
	// outside the retry loop.
	Breakers *Breakers
}

// RegisterBuiltins registers all builtin steps in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	var httpStep Step = NewHTTPRequestStep(cfg.HTTP)
	if cfg.Retry != nil {
		httpStep = WithRetry(httpStep, *cfg.Retry)
	}
	httpStep = WithCircuitBreaker(httpStep, cfg.Breakers)

	all := make([]Step, 0, 8)
	all = append(all,
		httpStep,
		&logStep{logger: logger},
		noopStep{},
		NewAssertStep(cel),
	)
	all = append(all, ExpressionSteps(expressions.NewGoJQEngine(), expressions.NewExprEngine())...)

	for _, s := range all {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}
