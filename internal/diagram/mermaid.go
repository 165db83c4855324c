package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowforge/pkg/schema"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", flatten(model.Title))
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		arrow := "-->"
		if edge.Unreachable {
			arrow = "-.->"
		}
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", mermaidEscapeLabel(edge.Label))
		}
		fmt.Fprintf(&b, "    %s %s%s %s\n", mermaidSafeID(edge.From), arrow, label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef disabled fill:#e8e8e8,stroke:#999,color:#888,stroke-dasharray:3 3\n")

	for _, node := range model.Nodes {
		if cls := mermaidClass(node); cls != "" {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape of its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := `"` + mermaidEscapeLabel(node.Label) + `"`

	switch node.Kind {
	case NodeKindTrigger:
		return fmt.Sprintf("%s((%s))", id, label)
	case NodeKindCondition:
		return fmt.Sprintf("%s{%s}", id, label)
	case NodeKindTransform:
		return fmt.Sprintf("%s[/%s/]", id, label)
	default:
		return fmt.Sprintf("%s[%s]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	var b strings.Builder
	b.WriteString("n_")
	for _, r := range id {
		if r < 0x80 && (r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// mermaidEscapeLabel makes a label safe inside a quoted Mermaid string.
func mermaidEscapeLabel(s string) string {
	s = strings.NewReplacer(`"`, "#quot;", "|", "#124;").Replace(s)
	return strings.Join(splitLines(s), "<br/>")
}

// mermaidClass picks the class of a node: its run status wins over disabled.
func mermaidClass(node *Node) string {
	if node.Status != nil {
		switch schema.NodeStatus(node.Status.Status) {
		case schema.NodeStatusSuccess:
			return "success"
		case schema.NodeStatusError:
			return "error"
		case schema.NodeStatusRunning:
			return "running"
		case schema.NodeStatusPending:
			return "pending"
		case schema.NodeStatusSkipped:
			return "skipped"
		}
	}
	if node.Disabled {
		return "disabled"
	}
	return ""
}

func splitLines(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == '\r' || r == '\u2028' || r == '\u2029'
	})
}

// flatten joins the lines of s with spaces.
func flatten(s string) string {
	return strings.Join(splitLines(s), " ")
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if lines := splitLines(s); len(lines) > 0 {
		return lines[0]
	}
	return ""
}
