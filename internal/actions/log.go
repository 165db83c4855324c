package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/flowforge/internal/logging"
	"github.com/rendis/flowforge/pkg/schema"
)

// logStep implements the "log" action type. It writes config.message to the
// host logger; credentials are never part of the record.
type logStep struct {
	logger *slog.Logger
}

func (s *logStep) Name() string { return "log" }

func (s *logStep) Schema() StepSchema {
	return StepSchema{
		Description: "Write a message to the run log",
		ConfigSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "message": {},
    "level": {"type": "string", "enum": ["debug","info","warn","error"], "default": "info"}
  },
  "required": ["message"]
}`),
	}
}

func (s *logStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "log", Args: []string{"message", "level"}}
}

func (s *logStep) Execute(ctx context.Context, input StepInput) (*StepOutput, error) {
	msg, ok := input.Config["message"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "log: missing required config 'message'")
	}
	text, ok := msg.(string)
	if !ok {
		b, err := json.Marshal(msg)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeStepFailed, "log: message is not serializable").WithCause(err)
		}
		text = string(b)
	}

	level := logging.ParseLevel(stringParam(input.Config, "level", "info"))
	logging.LogWith(ctx, s.logger).Log(ctx, level, text, slog.String("step", "log"))

	return &StepOutput{Data: map[string]any{
		"message":  text,
		"level":    level.String(),
		"loggedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}}, nil
}

// noopStep implements the "noop" action type: it echoes its config.
type noopStep struct{}

func (noopStep) Name() string { return "noop" }

func (noopStep) Schema() StepSchema {
	return StepSchema{Description: "Do nothing and return the resolved config"}
}

func (noopStep) Emitter() Emitter {
	return Emitter{Import: RuntimeModule, Function: "noop"}
}

func (noopStep) Execute(_ context.Context, input StepInput) (*StepOutput, error) {
	data := make(map[string]any, len(input.Config))
	for k, v := range input.Config {
		if k == schema.ConfigActionType || k == schema.ConfigCredentialRef {
			continue
		}
		data[k] = v
	}
	return &StepOutput{Data: data}, nil
}
