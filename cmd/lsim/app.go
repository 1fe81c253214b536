package main

import (
	"os"
	"path/filepath"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/daviddao/levelsim/pkg/config"
	"github.com/daviddao/levelsim/pkg/logging"
	"github.com/daviddao/levelsim/pkg/store"
)

const defaultConfig = "levelsim.yaml"

// app holds the state shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	jsonOut bool
}

// newApp loads the configuration and applies the global flags on top of it.
// Commands apply their own flags before calling validate.
func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Trace.DB = db
		cfg.Trace.Enabled = true
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	jsonOut, _ := cmd.Flags().GetBool("json")

	return &app{
		cfg:     cfg,
		logger:  logging.New(cfg.Logging.Level, cmd.ErrOrStderr()),
		jsonOut: jsonOut,
	}, nil
}

func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return ierrors.Wrap(err, "invalid configuration")
	}
	return nil
}

// openStore opens the trace database, creating its directory if needed.
func (a *app) openStore() (*store.Store, error) {
	path := a.cfg.Trace.DB
	if path == "" {
		return nil, ierrors.New("no trace database: pass --db or set LEVELSIM_DB")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ierrors.Wrapf(err, "cannot create %s", filepath.Dir(path))
	}
	s, err := store.New(path)
	if err != nil {
		return nil, ierrors.Wrapf(err, "cannot open database %q", path)
	}
	return s, nil
}
