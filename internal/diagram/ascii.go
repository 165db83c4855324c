package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rendis/flowforge/pkg/schema"
)

// statusTag returns a short ASCII indicator for a node status.
func statusTag(status string) string {
	switch schema.NodeStatus(status) {
	case schema.NodeStatusSuccess:
		return "[OK]"
	case schema.NodeStatusError:
		return "[FAIL]"
	case schema.NodeStatusRunning:
		return "[RUN]"
	case schema.NodeStatusSkipped:
		return "[SKIP]"
	case schema.NodeStatusPending:
		return "[PEND]"
	default:
		return ""
	}
}

// kindTag marks the non-action kinds.
func kindTag(kind NodeKind) string {
	switch kind {
	case NodeKindTrigger:
		return "(trigger)"
	case NodeKindCondition:
		return "<if>"
	case NodeKindTransform:
		return "/transform/"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one row of boxes per
// level, followed by the edge list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", flatten(model.Title))
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)

		if levelIdx < len(model.Levels)-1 && len(boxes) > 0 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\nEdges:\n")
		for _, e := range model.Edges {
			line := fmt.Sprintf("  %s ─→ %s", e.From, e.To)
			if e.Label != "" {
				line += " [" + e.Label + "]"
			}
			if e.Unreachable {
				line += " (unreachable)"
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

type asciiBox struct {
	lines []string
	width int
}

func makeBox(node *Node) asciiBox {
	var content []string
	content = append(content, firstLine(node.Label))
	if tag := kindTag(node.Kind); tag != "" {
		content = append(content, tag)
	}
	if node.Disabled {
		content = append(content, "[OFF]")
	}
	if node.Status != nil {
		if tag := statusTag(node.Status.Status); tag != "" {
			content = append(content, tag)
		}
		if node.Status.DurationMs > 0 {
			content = append(content, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, c := range content {
		pad := strings.Repeat(" ", maxLen-utf8.RuneCountInString(c))
		lines = append(lines, "│ "+c+pad+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	height := 0
	for _, box := range boxes {
		height = max(height, len(box.lines))
	}
	for row := 0; row < height; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}
