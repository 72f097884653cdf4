// Package graph renders the workflow state machine as a Mermaid flowchart.
package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/pitcrew/pkg/domain"
)

// Overlay contains dynamic state data to visualize on the graph.
type Overlay struct {
	VisitedStates []domain.State
	CurrentState  domain.State
}

// OverlayFor highlights the path and current state of wf.
func OverlayFor(wf domain.Workflow) *Overlay {
	return &Overlay{
		VisitedStates: wf.Path(),
		CurrentState:  wf.State,
	}
}

// GenerateMermaid produces a Mermaid flowchart of the transition table.
// It applies semantic styling:
// - Pending: ((Circle))
// - Agent stage: [[Subroutine]]
// - Waiting for outside input (scheduled, in_service): [/Parallelogram/]
// - Terminal: ([Stadium])
// - Retry: {Rhombus}
// Edges into retry or failed are dotted. Overlay styles (Visited/Current)
// are applied if provided.
func GenerateMermaid(transitions map[domain.State][]domain.State, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, state := range domain.States {
		targets, ok := transitions[state]
		if !ok {
			continue
		}
		id := sanitizeMermaidID(state)

		opener, closer := "[", "]"
		_, isStage := state.Stage()
		switch {
		case state == domain.StatePending:
			opener, closer = "((", "))"
		case state.Terminal():
			opener, closer = "([", "])"
		case state == domain.StateRetry:
			opener, closer = "{", "}"
		case isStage:
			opener, closer = "[[", "]]"
		case state == domain.StateScheduled || state == domain.StateInService:
			opener, closer = "[/", "/]"
		}

		label := string(state)
		if kind, ok := state.Stage(); ok && string(kind) != string(state) {
			label = fmt.Sprintf("%s <br/> %s", state, kind)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, label, closer)

		for _, to := range targets {
			arrow := "-->"
			if to == domain.StateRetry || to == domain.StateFailed {
				arrow = "-.->"
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", id, arrow, sanitizeMermaidID(to))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, state := range overlay.VisitedStates {
			id := sanitizeMermaidID(state)
			if id != "" && !seen[id] {
				seen[id] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", id)
			}
		}
		if overlay.CurrentState != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentState))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(state domain.State) string {
	s := strings.ReplaceAll(string(state), ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	// "end" is reserved by Mermaid.
	if s == "end" {
		s = "end_"
	}
	return s
}
