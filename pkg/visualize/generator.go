package visualize

import (
	"fmt"

	"github.com/emicklei/dot"
)

// Generator renders a graph in some text format.
type Generator interface {
	Generate(g *Graph) string
}

// NewGenerator returns the generator for a format name: "dot" or "mermaid".
func NewGenerator(format string) (Generator, error) {
	switch format {
	case "", "dot":
		return &DotGenerator{}, nil
	case "mermaid":
		return &MermaidGenerator{Fenced: true}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

func (d *DotGenerator) Generate(g *Graph) string { return BuildDotGraph(g).String() }

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct {
	// Fenced wraps the flowchart in a markdown code block.
	Fenced bool
}

func (m *MermaidGenerator) Generate(g *Graph) string {
	mermaid := dot.MermaidFlowchart(BuildDotGraph(g), dot.MermaidLeftToRight)
	if !m.Fenced {
		return mermaid
	}
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}
