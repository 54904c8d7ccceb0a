package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tebeka/atexit"

	"ttadse/internal/dsdb"
	"ttadse/internal/profile"
)

type app struct {
	v *viper.Viper

	store dsdb.Store
	cache *profile.Cache
}

func main() {
	a := &app{v: viper.New()}

	root := a.rootCommand()

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func (a *app) rootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "ttadse",
		Short:         "Design space exploration for transport triggered processors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				a.v.SetConfigFile(cfgFile)
				if err := a.v.ReadInConfig(); err != nil {
					return errors.Wrap(err, "config %v", cfgFile)
				}
			}

			l := tlog.New(tlog.NewConsoleWriter(os.Stderr, tlog.LstdFlags))
			l.SetVerbosity(a.v.GetString("verbose"))
			tlog.DefaultLogger = l

			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	f.String("db", "ttadse.db", "exploration database (sqlite)")
	f.String("cache", "", "profile cache directory, empty keeps it in memory")
	f.StringP("verbose", "v", "", "comma separated debug topics")

	for _, name := range []string{"db", "cache", "verbose"} {
		_ = a.v.BindPFlag(name, f.Lookup(name))
	}
	a.v.SetEnvPrefix("TTADSE")
	a.v.AutomaticEnv()

	root.AddCommand(
		a.initCommand(),
		a.importCommand(),
		a.addWorkloadCommand(),
		a.exportCommand(),
		a.dotCommand(),
		a.exploreCommand(),
	)

	return root
}

// context carries the root span so stages log through the console writer.
func (a *app) context() context.Context {
	return tlog.ContextWithSpan(context.Background(), tlog.Span{Logger: tlog.DefaultLogger})
}

// open opens the database and registers it to be closed on exit.
func (a *app) open() (dsdb.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	path := a.v.GetString("db")

	s, err := dsdb.OpenSQLite(path)
	if err != nil {
		return nil, errors.Wrap(err, "open %v", path)
	}

	a.store = s
	atexit.Register(func() {
		if err := s.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing database: %v\n", err)
		}
	})

	return s, nil
}

func (a *app) openCache() (*profile.Cache, error) {
	if a.cache != nil {
		return a.cache, nil
	}

	dir := a.v.GetString("cache")

	c, err := profile.OpenCache(dir)
	if err != nil {
		return nil, errors.Wrap(err, "open cache %q", dir)
	}

	a.cache = c
	atexit.Register(func() {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing cache: %v\n", err)
		}
	})

	return c, nil
}
