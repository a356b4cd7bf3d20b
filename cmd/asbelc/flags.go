package main

import (
	"flag"
	"io"
	"os"

	"github.com/asbel-lang/asbel/internal/cli"
	"github.com/asbel-lang/asbel/internal/compiler"
)

// common holds the flags every analysing subcommand accepts. Flags given on
// the command line override the configuration file.
type common struct {
	fs         *flag.FlagSet
	configPath string
	verbose    bool
	debug      bool
	workers    int
	maxErrors  int
	werror     bool
	warnDefer  bool
	schema     string
	color      string
	watch      bool

	cfg *cli.Config
	log *cli.Logger
}

func newCommon(name string, stderr io.Writer) *common {
	c := &common{fs: flag.NewFlagSet(name, flag.ContinueOnError)}
	c.fs.SetOutput(stderr)
	c.fs.Usage = func() {
		cli.PrintCommandUsage(c.fs.Output(), tool, command(name))
		c.fs.PrintDefaults()
	}
	c.fs.StringVar(&c.configPath, "config", cli.DefaultConfigFile, "configuration file")
	c.fs.BoolVar(&c.verbose, "verbose", false, "verbose output")
	c.fs.BoolVar(&c.debug, "debug", false, "debug output")
	c.fs.IntVar(&c.workers, "workers", 0, "functions analysed in parallel (0 = one per CPU)")
	c.fs.IntVar(&c.maxErrors, "max-errors", 0, "stop reporting after N fatal diagnostics (0 = unlimited)")
	c.fs.BoolVar(&c.werror, "Werror", false, "treat warnings as fatal")
	c.fs.BoolVar(&c.warnDefer, "warn-deferred", false, "warn about every runtime check inserted")
	c.fs.StringVar(&c.schema, "schema", "", "accepted typed AST schema versions (semver constraint)")
	c.fs.StringVar(&c.color, "color", "", "auto, always or never")
	return c
}

func (c *common) addWatch() {
	c.fs.BoolVar(&c.watch, "watch", false, "re-run when an input file changes")
}

// parse parses args, loads the configuration and applies explicit flags.
func (c *common) parse(args []string) error {
	if err := c.fs.Parse(args); err != nil {
		return err
	}
	cfg, err := cli.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	c.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "verbose":
			cfg.Verbose = c.verbose
		case "debug":
			cfg.Debug = c.debug
		case "workers":
			cfg.Workers = c.workers
		case "max-errors":
			cfg.MaxErrors = c.maxErrors
		case "Werror":
			cfg.WarningsAsErrors = c.werror
		case "warn-deferred":
			cfg.WarnDeferred = c.warnDefer
		case "schema":
			cfg.Schema = c.schema
		case "color":
			cfg.Color = c.color
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	c.log = cli.NewLogger(cfg.Verbose, cfg.Debug)
	c.log.Out = c.fs.Output()
	return nil
}

func (c *common) files(min int) ([]string, error) {
	if err := cli.ValidateArgs(c.fs.Args(), min, command(c.fs.Name()).Usage); err != nil {
		return nil, err
	}
	return c.fs.Args(), nil
}

func (c *common) compiler() *compiler.Compiler {
	return compiler.New(compiler.Options{
		Workers:          c.cfg.Workers,
		MaxErrors:        c.cfg.MaxErrors,
		WarningsAsErrors: c.cfg.WarningsAsErrors,
		WarnDeferred:     c.cfg.WarnDeferred,
	}, c.log)
}

func (c *common) useColor(w io.Writer) bool {
	f, _ := w.(*os.File)
	return c.cfg.UseColor(f)
}
