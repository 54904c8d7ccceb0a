package arch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/nikandfor/errors"
)

// DOT renders the interconnect as a Graphviz digraph: buses are boxes,
// units are records with their ports, sockets are edges.
func (g *Graph) DOT() string {
	var sb strings.Builder
	sb.WriteString("digraph TTA {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [fontname=\"Arial\"];\n")
	sb.WriteString("  edge [fontname=\"Arial\", fontsize=9];\n\n")

	carriers := make(map[BusID]bool)
	for _, b := range g.Carriers() {
		carriers[b] = true
	}

	for _, id := range g.Buses() {
		b := g.buses[id]
		label := fmt.Sprintf("%s\\nw=%d", b.Name, b.Width)
		color := "white"
		if b.ImmWidth > 0 {
			label += fmt.Sprintf(" simm=%d", b.ImmWidth)
			if b.SignExtends {
				label += "s"
			} else {
				label += "u"
			}
		}
		if carriers[id] {
			color = "lightblue"
			label += "\\n(limm)"
		}
		fmt.Fprintf(&sb, "  B%d [label=\"%s\", shape=box, fillcolor=\"%s\", style=\"filled\"];\n", id, label, color)
	}

	sb.WriteString("\n")

	for _, id := range g.Units() {
		u := g.units[id]
		color := "lightyellow"
		switch {
		case u.Kind == RegisterFile:
			color = "lightgreen"
		case u.Kind == ImmediateUnit:
			color = "lightgrey"
		case u.Kind == ControlUnit:
			color = "pink"
		case u.IsLSU():
			color = "orange"
		}

		fields := make([]string, 0, len(u.Ports)+1)
		fields = append(fields, u.Name)
		for _, p := range u.Ports {
			port := g.ports[p]
			name := port.Name
			if port.Triggering {
				name += "*"
			}
			fields = append(fields, fmt.Sprintf("<p%d> %s", p, name))
		}
		fmt.Fprintf(&sb, "  U%d [label=\"{%s}\", shape=record, fillcolor=\"%s\", style=\"filled\"];\n",
			id, strings.Join(fields, "|"), color)
	}

	sb.WriteString("\n")

	for _, id := range g.Sockets() {
		s := g.sockets[id]
		p := g.Port(s.Port)
		if p == nil {
			continue
		}
		seen := make(map[BusID]bool)
		for _, seg := range s.Segments {
			bus := g.segments[seg].Bus
			if seen[bus] {
				continue
			}
			seen[bus] = true
			if s.Direction == Input {
				fmt.Fprintf(&sb, "  B%d -> U%d:p%d [label=\"%s\"];\n", bus, p.Unit, s.Port, s.Name)
			} else {
				fmt.Fprintf(&sb, "  U%d:p%d -> B%d [label=\"%s\"];\n", p.Unit, s.Port, bus, s.Name)
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func (g *Graph) WriteDOT(w io.Writer) error {
	_, err := io.WriteString(w, g.DOT())
	return err
}

// RenderPNG converts a .dot file to .png using the Graphviz dot binary.
func RenderPNG(ctx context.Context, dotFile, pngFile string) error {
	if _, err := exec.LookPath("dot"); err != nil {
		return errors.Wrap(err, "graphviz dot command not found")
	}

	cmd := exec.CommandContext(ctx, "dot", "-Tpng", dotFile, "-o", pngFile)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrap(err, "graphviz: %s", output)
	}

	if _, err := os.Stat(pngFile); os.IsNotExist(err) {
		return errors.New("png file was not created: %v", pngFile)
	}

	return nil
}
