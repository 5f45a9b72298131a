package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcncl/jsonflat/internal/config"
	"github.com/mcncl/jsonflat/internal/errors"
	"github.com/mcncl/jsonflat/internal/fabricate"
	"github.com/mcncl/jsonflat/internal/flattener"
	"github.com/mcncl/jsonflat/internal/formatter"
	"github.com/mcncl/jsonflat/internal/models"
	"github.com/mcncl/jsonflat/internal/parser"
)

// CLI defines the command-line interface
var CLI struct {
	Config  string           `help:"Path to a YAML config file. Searched for upwards from the working directory if not specified." short:"c" type:"path"`
	EnvFile string           `help:"Path to a dotenv file with remote settings." default:".env" type:"path"`
	Output  string           `help:"Path to output JSON file. If not specified, writes to stdout." short:"o" type:"path"`
	Debug   bool             `help:"Enable debug logging." short:"d"`
	Version kong.VersionFlag `help:"Show version information." short:"v"`
	Workers int              `help:"Number of records flattened concurrently." short:"w" default:"1"`

	Flatten     FlattenCmd     `cmd:"" help:"Flatten a local JSON Lines file (use - for stdin)."`
	Fetch       FetchCmd       `cmd:"" help:"Generate data remotely, download it and flatten it."`
	PrintConfig PrintConfigCmd `cmd:"" name:"print-config" help:"Print the effective remote configuration."`
}

// Context holds the runtime context shared by all commands
type Context struct {
	context.Context

	Debug  bool
	Config *config.Config
	Logger *zap.Logger
	Stdout io.Writer
}

// Version information
const (
	Version = "0.1.0"
)

// FlattenCmd flattens a local file
type FlattenCmd struct {
	File string `arg:"" help:"JSON Lines file to flatten, or - for stdin."`
}

// Run parses the whole file before emitting anything
func (c *FlattenCmd) Run(ctx *Context) error {
	values, err := readValues(c.File)
	if err != nil {
		return err
	}
	ctx.Logger.Debug("parsed input", zap.String("file", c.File), zap.Int("records", len(values)))
	return flattenAndWrite(ctx, values)
}

// FetchCmd runs a remote generate task and flattens its result
type FetchCmd struct {
	Entity      string `arg:"" optional:"" help:"Entity to fetch. Overrides the configured ENTITY."`
	DownloadDir string `help:"Directory downloaded files are stored in." type:"path"`
	Keep        bool   `help:"Keep the downloaded file after flattening." default:"true" negatable:""`
}

// Run downloads <download-dir>/<entity>.jsonl and flattens it
func (c *FetchCmd) Run(ctx *Context) (err error) {
	cfg := ctx.Config
	if c.Entity != "" {
		cfg.Remote.Entity = c.Entity
	}
	if c.DownloadDir != "" {
		cfg.Output.DownloadDir = c.DownloadDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimSpace(cfg.Redacted()), "\n") {
		ctx.Logger.Info(line)
	}

	client := fabricate.NewClient(cfg.APIURL(), cfg.Remote.APIKey,
		fabricate.WithPollInterval(cfg.Remote.PollInterval),
		fabricate.WithLogger(ctx.Logger),
	)
	job := fabricate.Job{
		Workspace: cfg.Remote.Workspace,
		Database:  cfg.Remote.Database,
		Entity:    cfg.Remote.Entity,
	}
	path, err := client.DownloadJSONL(ctx, job, cfg.DownloadPath(job.Entity))
	if err != nil {
		return err
	}
	if !c.Keep {
		defer func() {
			if rmErr := os.Remove(path); rmErr != nil {
				err = multierr.Append(err, errors.NewOutputError(fmt.Sprintf("failed to remove '%s'", path), rmErr))
			}
		}()
	}

	values, err := parser.ParseFile(path)
	if err != nil {
		return err
	}
	return flattenAndWrite(ctx, values)
}

// PrintConfigCmd shows the configuration with the API key masked
type PrintConfigCmd struct{}

// Run prints the redacted configuration to stdout
func (c *PrintConfigCmd) Run(ctx *Context) error {
	if err := ctx.Config.Validate(); err != nil {
		return err
	}
	if _, err := io.WriteString(ctx.Stdout, ctx.Config.Redacted()); err != nil {
		return errors.NewOutputError("failed to write to stdout", err)
	}
	return nil
}

func main() {
	// Parse CLI arguments with Kong
	parser := kong.Must(&CLI,
		kong.Name("jsonflat"),
		kong.Description("A tool to flatten JSON Lines records into key/value fields with structural markers"),
		kong.UsageOnError(),
		kong.Vars{"version": fmt.Sprintf("jsonflat version %s", Version)},
	)

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, err := newContext(sigCtx, strings.HasPrefix(kctx.Command(), "fetch") || kctx.Command() == "print-config")
	if err == nil {
		err = kctx.Run(ctx)
		_ = ctx.Logger.Sync()
	}
	if err != nil {
		// Use our custom error handling to provide user-friendly error messages
		fmt.Fprintf(os.Stderr, "%s\n", errors.UserFriendlyError(err))
		stop()
		os.Exit(1)
	}
}

// newContext loads the configuration and builds the logger. Commands that
// don't talk to the remote service fall back to the defaults when the
// configuration can't be loaded.
func newContext(parent context.Context, needsConfig bool) (*Context, error) {
	path := CLI.Config
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, loadErr := config.Load(path, CLI.EnvFile)
	if loadErr != nil {
		if needsConfig {
			return nil, loadErr
		}
		cfg = config.NewConfig()
	}
	if CLI.Debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := cfg.Logging.Prepare()
	if err != nil {
		if needsConfig {
			return nil, err
		}
		loadErr = err
		cfg.Logging = config.NewConfig().Logging
		if CLI.Debug {
			cfg.Logging.Level = "debug"
		}
		if logger, err = cfg.Logging.Prepare(); err != nil {
			return nil, err
		}
	}
	if loadErr != nil {
		logger.Warn("ignoring configuration", zap.String("error", errors.UserFriendlyError(loadErr)))
	} else if path != "" {
		logger.Debug("using config file", zap.String("path", path))
	}

	return &Context{
		Context: parent,
		Debug:   CLI.Debug,
		Config:  cfg,
		Logger:  logger,
		Stdout:  os.Stdout,
	}, nil
}

// readValues reads JSON Lines from a file, or stdin for "-"
func readValues(file string) ([]models.Value, error) {
	if file == "-" {
		return parser.ParseReader(os.Stdin)
	}
	return parser.ParseFile(file)
}

func flattenAndWrite(ctx *Context, values []models.Value) error {
	records, err := flattener.NewFlattener().FlattenAll(ctx, values, CLI.Workers)
	if err != nil {
		return err
	}
	return writeOutput(ctx, records)
}

// writeOutput writes records to the output file or stdout
func writeOutput(ctx *Context, records []models.FlattenedRecord) (err error) {
	f := formatter.NewFormatter()
	if CLI.Output == "" {
		return f.Write(ctx.Stdout, records)
	}

	file, err := os.Create(CLI.Output)
	if err != nil {
		return errors.NewOutputError(fmt.Sprintf("failed to write to file '%s'", CLI.Output), err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			err = multierr.Append(err, errors.NewOutputError(fmt.Sprintf("failed to close '%s'", CLI.Output), closeErr))
		}
	}()

	if err := f.Write(file, records); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Flattened %d records written to %s\n", len(records), CLI.Output)
	return nil
}
