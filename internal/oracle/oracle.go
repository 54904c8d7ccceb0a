// Package oracle answers whether an architecture reaches a clock frequency.
package oracle

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/arch"
)

type Oracle interface {
	MeetsFrequency(ctx context.Context, g *arch.Graph, mhz int) (bool, error)
}

// Func adapts a plain function.
type Func func(ctx context.Context, g *arch.Graph, mhz int) (bool, error)

func (f Func) MeetsFrequency(ctx context.Context, g *arch.Graph, mhz int) (bool, error) {
	if mhz <= 0 {
		return true, nil
	}
	return f(ctx, g, mhz)
}

// Always accepts or rejects every architecture.
func Always(ok bool) Oracle {
	return Func(func(context.Context, *arch.Graph, int) (bool, error) { return ok, nil })
}

// Command runs an external synthesis and timing flow. The architecture is
// written to a temporary directory as arch.json, and the command is run
// there with Args followed by the file path and the target in MHz. It
// passes when its output is exactly one line "passed".
type Command struct {
	Path string
	Args []string
	// Dir is the parent of the per-call temporary directory.
	Dir string
	// Keep leaves the temporary directory behind.
	Keep bool
}

func (c *Command) MeetsFrequency(ctx context.Context, g *arch.Graph, mhz int) (ok bool, err error) {
	if mhz <= 0 {
		return true, nil
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "oracle", "arch", g.Name, "mhz", mhz)
	defer tr.Finish("err", &err)

	dir, err := os.MkdirTemp(c.Dir, "oracle")
	if err != nil {
		return false, errors.Wrap(err, "temp dir")
	}
	if !c.Keep {
		defer os.RemoveAll(dir)
	}

	file := filepath.Join(dir, "arch.json")
	if err := arch.WriteFile(file, g); err != nil {
		return false, err
	}

	args := append(append([]string(nil), c.Args...), file, strconv.Itoa(mhz))
	cmd := exec.CommandContext(ctx, c.Path, args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return false, errors.Wrap(err, "%v: %s", c.Path, bytes.TrimSpace(out))
	}

	ok = Passed(out)

	if tr.If("oracle_output") {
		tr.Printw("oracle output", "out", string(out))
	}

	return ok, nil
}

// Passed reports whether out is the single line "passed".
func Passed(out []byte) bool {
	s := strings.TrimRight(string(out), "\r\n")
	return s == "passed"
}
