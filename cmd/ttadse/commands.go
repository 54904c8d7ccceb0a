package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/spf13/cobra"

	"ttadse/internal/arch"
	"ttadse/internal/dsdb"
	"ttadse/internal/machines"
	"ttadse/internal/toolchain"
)

func (a *app) initCommand() *cobra.Command {
	o := machines.DefaultOptions()
	var store bool

	cmd := &cobra.Command{
		Use:   "init <arch.json>",
		Short: "Write a fully connected starting machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := machines.Scalar(o)
			if err != nil {
				return err
			}

			if err := arch.WriteFile(args[0], g); err != nil {
				return err
			}

			fmt.Printf("Machine %s: %d buses, %d function units written to %s\n",
				g.Name, len(g.Buses()), len(g.FunctionUnits()), args[0])

			if !store {
				return nil
			}

			return a.importGraph(g)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.Name, "name", o.Name, "machine name")
	f.IntVar(&o.Buses, "buses", o.Buses, "number of buses")
	f.IntVar(&o.Width, "width", o.Width, "data width")
	f.IntVar(&o.ShortImm, "simm", o.ShortImm, "short immediate width of every bus")
	f.IntVar(&o.ReadPorts, "read-ports", o.ReadPorts, "register file read ports")
	f.IntVar(&o.Registers, "registers", o.Registers, "register count")
	f.IntVar(&o.ALUs, "alus", o.ALUs, "number of ALUs")
	f.IntVar(&o.LSUs, "lsus", o.LSUs, "number of load/store units")
	f.BoolVar(&o.Multiplier, "mul", o.Multiplier, "add a multiplier")
	f.BoolVar(&store, "import", false, "also store it in the database")

	return cmd
}

func (a *app) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <arch.json>",
		Short: "Store an architecture and print its configuration id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := arch.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := g.Validate(); err != nil {
				return errors.Wrap(err, "%v", args[0])
			}

			return a.importGraph(g)
		},
	}
}

func (a *app) importGraph(g *arch.Graph) error {
	s, err := a.open()
	if err != nil {
		return err
	}

	id, err := dsdb.AddArchitectureConfiguration(a.context(), s, g)
	if err != nil {
		return err
	}

	fmt.Printf("Configuration %d: %s\n", id, g.Name)

	return nil
}

func (a *app) addWorkloadCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add-workload <workload.json>",
		Short: "Register a workload profiled on every candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			w, err := toolchain.ReadWorkload(path)
			if err != nil {
				return err
			}
			if name == "" {
				name = w.Name
			}

			s, err := a.open()
			if err != nil {
				return err
			}

			id, err := s.AddWorkload(a.context(), dsdb.Workload{Name: name, Path: path})
			if err != nil {
				return err
			}

			fmt.Printf("Workload %d: %s, %d ops, %d iterations\n", id, name, len(w.Ops), w.Iterations)

			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "workload name, defaults to the one in the file")

	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <conf> <arch.json>",
		Short: "Write the architecture of a configuration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.load(args[0])
			if err != nil {
				return err
			}

			if err := arch.WriteFile(args[1], g); err != nil {
				return err
			}

			fmt.Printf("Configuration %s written to %s\n", args[0], args[1])

			return nil
		},
	}
}

func (a *app) dotCommand() *cobra.Command {
	var png bool

	cmd := &cobra.Command{
		Use:   "dot <conf> <out.dot>",
		Short: "Render the interconnect of a configuration as Graphviz",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.load(args[0])
			if err != nil {
				return err
			}

			f, err := os.Create(args[1])
			if err != nil {
				return err
			}

			err = g.WriteDOT(f)
			if e := f.Close(); err == nil {
				err = e
			}
			if err != nil {
				return errors.Wrap(err, "write %v", args[1])
			}

			fmt.Printf("DOT file written to %s\n", args[1])

			if !png {
				return nil
			}

			out := strings.TrimSuffix(args[1], filepath.Ext(args[1])) + ".png"
			if err := arch.RenderPNG(cmd.Context(), args[1], out); err != nil {
				return err
			}

			fmt.Printf("PNG image written to %s\n", out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&png, "png", false, "also render a PNG with the dot tool")

	return cmd
}

func (a *app) load(arg string) (*arch.Graph, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "configuration id %q", arg)
	}

	s, err := a.open()
	if err != nil {
		return nil, err
	}

	_, g, err := dsdb.LoadArchitecture(a.context(), s, dsdb.RowID(id))
	return g, err
}
