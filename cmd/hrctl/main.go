/*
hrctl - Operator CLI for the HR back-office engine

COMMANDS:
  hrctl import attendance --file clock.xlsx
  hrctl import employees  --file roster.csv
  hrctl payroll status   --period 2024-01 [--scope north]
  hrctl payroll finalize --period 2024-01 [--scope north]
  hrctl leave approve --id <request-id> --by <user>
  hrctl leave reject  --id <request-id> --by <user> [--reason ...]

GLOBAL FLAGS:
  --db     SQLite database path (overrides DATABASE_PATH)
  --env    .env file to load

Operators run with full roster access; there is no scope pinning here.

EXIT CODES:
  0  success
  1  command failed
  2  import finished with failed rows
*/
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/warp/hr-engine/config"
	"github.com/warp/hr-engine/store/sqlite"
)

const (
	exitFailed     = 1
	exitRowsFailed = 2
)

// exitError carries a process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// app is shared by every subcommand. open is called lazily so --help
// works without a database.
type app struct {
	dbPath  string
	envFile string

	cfg   *config.Config
	log   *logrus.Logger
	store *sqlite.Store
}

func (a *app) open() error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.DatabasePath = a.dbPath
	}
	a.cfg = cfg
	a.log = cfg.NewLogger(os.Stderr)

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "hrctl",
		Short:         "Operate the HR back-office engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides DATABASE_PATH)")
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "environment file")

	root.AddCommand(newImportCmd(a), newPayrollCmd(a), newLeaveCmd(a))
	return root
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	a.close()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(exitFailed)
}
