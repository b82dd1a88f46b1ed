// Command kgstore is the command-line interface for the knowledge-graph
// entity store: submit transactions, roll back history, and inspect the
// current transaction-log tip against a Postgres-backed store.
package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"gitlab.com/peerdb/kgstore/internal/cli"
)

// Globals are the flags shared by every subcommand.
type Globals struct {
	Config   cli.ConfigFlag `help:"Load flags from a YAML config file." placeholder:"PATH" short:"c" yaml:"-"`
	Database string         `help:"Postgres connection URI." placeholder:"URI" required:"" yaml:"database"`
	Schema   string         `default:"kgstore" help:"Postgres schema to store tables in." yaml:"schema"`
	Author   string         `default:"cli" help:"Author recorded on new transactions." yaml:"author"`
	LogLevel zerolog.Level  `default:"info" enum:"trace,debug,info,warn,error" help:"Logging level. Possible: ${enum}." placeholder:"LEVEL" yaml:"logLevel"`

	Update   UpdateCmd   `cmd:"" help:"Submit a transaction from a JSON input file."`
	Rollback RollbackCmd `cmd:"" help:"Roll back the last N transactions."`
	Version  VersionCmd  `cmd:"" help:"Print the current transaction-log tip."`
}

func main() {
	var globals Globals

	kongCtx := kong.Parse(&globals,
		kong.Name("kgstore"),
		kong.Description("Manage a knowledge-graph entity store."),
		kong.UsageOnError(),
	)

	writer := zerolog.ConsoleWriter{Out: os.Stderr} //nolint:exhaustruct
	logger := zerolog.New(writer).Level(globals.LogLevel).With().Timestamp().Logger()

	err := kongCtx.Run(&globals, logger)
	kongCtx.FatalIfErrorf(err)
}
