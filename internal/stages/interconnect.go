package stages

import (
	"context"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"ttadse/internal/dsdb"
	"ttadse/internal/explore"
	"ttadse/internal/machines"
)

// vliwConnectIC rebuilds the interconnect with a bus per function unit
// port. See machines.ConnectVLIW.
func vliwConnectIC(ctx context.Context, env *explore.Env, conf dsdb.RowID, p explore.Params) (_ []dsdb.RowID, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, VLIWConnectIC, "conf", conf)
	defer tr.Finish("err", &err)

	var o machines.VLIWOptions

	if o.WipeRegisterFile, err = p.Bool("wipe_register_file", true); err != nil {
		return nil, err
	}
	if o.ShortImmWidth, err = p.Int("simm_width", 32); err != nil {
		return nil, err
	}
	if o.ShortImmWidth < 0 {
		return nil, errors.New("simm_width must not be negative")
	}
	if o.LongImmBuses, err = positiveInt(p, "limm_bus_count", 1); err != nil {
		return nil, err
	}

	_, g, err := load(ctx, env, conf)
	if err != nil {
		return nil, err
	}

	out, err := machines.ConnectVLIW(g, o)
	if err != nil {
		return nil, err
	}

	id, st, err := commit(ctx, env, out)
	if err != nil {
		return nil, err
	}

	tr.Printw("interconnect rebuilt", "buses", len(out.Buses()), "conf", id, "cycles", st.AverageCycles())

	return []dsdb.RowID{id}, nil
}
