package explore

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nikandfor/errors"
)

var ErrUnknownParam = errors.New("unknown parameter")

// Params is a string-keyed parameter table as given on the command line
// and handed to every stage.
type Params map[string]string

func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return def, errors.Wrap(err, "parameter %v", key)
	}
	return x, nil
}

func (p Params) Uint(key string, def uint64) (uint64, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	x, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def, errors.Wrap(err, "parameter %v", key)
	}
	return x, nil
}

func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	x, err := strconv.ParseBool(v)
	if err != nil {
		return def, errors.Wrap(err, "parameter %v", key)
	}
	return x, nil
}

// List splits a semicolon separated value. Empty items are dropped.
func (p Params) List(key string) []string {
	var out []string
	for _, s := range strings.Split(p[key], ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the keys in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Config holds the engine parameters.
type Config struct {
	TargetMHz    int    // target_f, 0 disables the oracle
	TargetCycles uint64 // target_cc, 0 disables pruning
	ResultSize   int    // result_size
	Skeleton     []string
	Mode         string

	WipeRegisterFile bool
	ShortImmWidth    int // simm_width
	LongImmBusCount  int // limm_bus_count
	NumLSU           int
	TotalBits        int // short immediate bit budget
}

func DefaultConfig() Config {
	return Config{
		ResultSize:       10,
		Mode:             "scalar",
		WipeRegisterFile: true,
		ShortImmWidth:    32,
		LongImmBusCount:  1,
		NumLSU:           1,
		TotalBits:        32,
	}
}

var paramKeys = map[string]bool{
	"target_f":           true,
	"target_cc":          true,
	"result_size":        true,
	"skeleton":           true,
	"mode":               true,
	"wipe_register_file": true,
	"simm_width":         true,
	"limm_bus_count":     true,
	"num_lsu":            true,
	"dont_merge":         true,
	"total_bits":         true,
}

// ParseParams reads the engine parameters on top of DefaultConfig.
// dont_merge is an alias of skeleton.
func ParseParams(p Params) (c Config, err error) {
	c = DefaultConfig()

	for _, k := range p.Keys() {
		if !paramKeys[k] {
			return c, errors.Wrap(ErrUnknownParam, "%v", k)
		}
	}

	if c.TargetMHz, err = p.Int("target_f", c.TargetMHz); err != nil {
		return
	}
	if c.TargetCycles, err = p.Uint("target_cc", c.TargetCycles); err != nil {
		return
	}
	if c.ResultSize, err = p.Int("result_size", c.ResultSize); err != nil {
		return
	}
	if c.WipeRegisterFile, err = p.Bool("wipe_register_file", c.WipeRegisterFile); err != nil {
		return
	}
	if c.ShortImmWidth, err = p.Int("simm_width", c.ShortImmWidth); err != nil {
		return
	}
	if c.LongImmBusCount, err = p.Int("limm_bus_count", c.LongImmBusCount); err != nil {
		return
	}
	if c.NumLSU, err = p.Int("num_lsu", c.NumLSU); err != nil {
		return
	}
	if c.TotalBits, err = p.Int("total_bits", c.TotalBits); err != nil {
		return
	}

	c.Skeleton = append(p.List("skeleton"), p.List("dont_merge")...)
	c.Mode = p.String("mode", c.Mode)

	switch {
	case c.Mode != "scalar" && c.Mode != "vector":
		return c, errors.New("mode %q: want scalar or vector", c.Mode)
	case c.ResultSize < 1:
		return c, errors.New("result_size must be positive")
	case c.TargetMHz < 0:
		return c, errors.New("target_f must not be negative")
	case c.NumLSU < 0 || c.TotalBits < 0 || c.ShortImmWidth < 0:
		return c, errors.New("negative stage parameter")
	case c.LongImmBusCount < 1 || 32%c.LongImmBusCount != 0:
		return c, errors.New("limm_bus_count %d must divide 32", c.LongImmBusCount)
	}

	return c, nil
}

// Params renders c back into a parameter table.
func (c Config) Params() Params {
	return Params{
		"target_f":           strconv.Itoa(c.TargetMHz),
		"target_cc":          strconv.FormatUint(c.TargetCycles, 10),
		"result_size":        strconv.Itoa(c.ResultSize),
		"skeleton":           strings.Join(c.Skeleton, ";"),
		"mode":               c.Mode,
		"wipe_register_file": strconv.FormatBool(c.WipeRegisterFile),
		"simm_width":         strconv.Itoa(c.ShortImmWidth),
		"limm_bus_count":     strconv.Itoa(c.LongImmBusCount),
		"num_lsu":            strconv.Itoa(c.NumLSU),
		"total_bits":         strconv.Itoa(c.TotalBits),
	}
}
