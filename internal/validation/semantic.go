package validation

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr/parser"
	"github.com/itchyny/gojq"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowforge/internal/expressions"
	"github.com/rendis/flowforge/pkg/schema"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a trigger's `schedule` config value: a standard
// five-field cron expression or a descriptor such as "@hourly".
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// validateSemantic checks node configs: registered action types, transform
// programs, condition syntax, template references, schedules and credential
// references. Problems that the engines degrade gracefully on are warnings.
func validateSemantic(def *schema.Graph, lookup ActionLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodes := make([]*schema.Node, len(def.Nodes))
	for i := range def.Nodes {
		nodes[i] = &def.Nodes[i]
	}
	resolver := expressions.NewResolver(nodes, nil)

	for i, n := range nodes {
		path := fmt.Sprintf("nodes[%d]", i)

		switch n.Kind {
		case schema.NodeKindTrigger:
			validateSchedule(n, path, result)
		case schema.NodeKindAction:
			if at := n.ConfigString(schema.ConfigActionType); at != "" && lookup != nil && !lookup.Has(at) {
				result.AddWarning(path+".config.actionType", schema.ErrCodeActionUnavailable,
					fmt.Sprintf("action type %q is not registered", at))
			}
		case schema.NodeKindCondition:
			if _, err := expressions.RewriteCondition(n.ConfigString(schema.ConfigCondition)); err != nil {
				result.AddWarning(path+".config.condition", schema.ErrCodeCondition, err.Error())
			}
		case schema.NodeKindTransform:
			validateTransform(n, path, result)
		}

		if raw, ok := n.Config[schema.ConfigCredentialRef]; ok {
			if _, isString := raw.(string); !isString {
				result.AddError(path+".config.credentialRef", schema.ErrCodeValidation,
					"credentialRef must be a string")
			}
		}

		validateTemplates(n, path, nodes, resolver, result)
	}

	return result
}

func validateSchedule(n *schema.Node, path string, result *schema.ValidationResult) {
	raw, ok := n.Config[schema.ConfigSchedule]
	if !ok {
		return
	}
	spec, isString := raw.(string)
	if !isString || spec == "" {
		result.AddError(path+".config.schedule", schema.ErrCodeValidation, "schedule must be a non-empty string")
		return
	}
	if _, err := ParseSchedule(spec); err != nil {
		result.AddError(path+".config.schedule", schema.ErrCodeValidation,
			fmt.Sprintf("invalid schedule %q: %s", spec, err.Error()))
	}
}

func validateTransform(n *schema.Node, path string, result *schema.ValidationResult) {
	kind := n.ConfigString(schema.ConfigTransformType)
	expr := n.ConfigString(schema.ConfigExpression)

	switch kind {
	case "", schema.TransformPassthrough:
		return
	case schema.TransformJQ:
		if expr == "" {
			result.AddError(path+".config.expression", schema.ErrCodeValidation, "jq transform requires an expression")
			return
		}
		if _, err := gojq.Parse(expr); err != nil {
			result.AddError(path+".config.expression", schema.ErrCodeValidation,
				fmt.Sprintf("jq parse error: %s", err.Error()))
		}
	case schema.TransformExpr:
		if expr == "" {
			result.AddError(path+".config.expression", schema.ErrCodeValidation, "expr transform requires an expression")
			return
		}
		if _, err := parser.Parse(expr); err != nil {
			result.AddError(path+".config.expression", schema.ErrCodeValidation,
				fmt.Sprintf("expr parse error: %s", err.Error()))
		}
	default:
		result.AddError(path+".config.transformType", schema.ErrCodeValidation,
			fmt.Sprintf("unknown transform type %q", kind))
	}
}

func validateTemplates(n *schema.Node, path string, nodes []*schema.Node, resolver *expressions.Resolver, result *schema.ValidationResult) {
	for key, v := range n.Config {
		forEachString(v, func(text string) {
			for _, sp := range expressions.FindTemplates(text) {
				ref, err := expressions.ParseTemplate(sp.Expr)
				if err != nil {
					result.AddWarning(path+".config."+key, schema.ErrCodeTemplateMiss, err.Error())
					continue
				}
				id, ok := resolver.ResolveNodeID(ref)
				if !ok {
					result.AddWarning(path+".config."+key, schema.ErrCodeTemplateMiss,
						fmt.Sprintf("template %s references unknown node %q", sp.Raw, ref.NodeRef))
					continue
				}
				if id == n.ID {
					result.AddWarning(path+".config."+key, schema.ErrCodeTemplateMiss,
						fmt.Sprintf("template %s references its own node", sp.Raw))
				}
				if ref.Addressing == expressions.AddrLabel {
					if c := labelCount(nodes, ref.NodeRef); c > 1 {
						result.AddWarning(path+".config."+key, schema.ErrCodeTemplateMiss,
							fmt.Sprintf("label %q matches %d nodes; %s resolves to %q", ref.NodeRef, c, sp.Raw, id))
					}
				}
			}
		})
	}
}

func labelCount(nodes []*schema.Node, label string) int {
	c := 0
	for _, n := range nodes {
		if strings.EqualFold(n.Label, label) {
			c++
		}
	}
	return c
}

func forEachString(v any, fn func(string)) {
	switch val := v.(type) {
	case string:
		fn(val)
	case map[string]any:
		for _, item := range val {
			forEachString(item, fn)
		}
	case []any:
		for _, item := range val {
			forEachString(item, fn)
		}
	}
}
