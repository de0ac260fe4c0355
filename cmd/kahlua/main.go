// kahlua runs Lua 5.1 scripts, optionally with generated code and the
// sampling profiler attached.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/gigfork/kahlua2/config"
	"github.com/gigfork/kahlua2/profile"
	"github.com/gigfork/kahlua2/vm"
)

var log = commonlog.GetLogger("kahlua.cli")

type options struct {
	cfg *config.Config

	listing bool
	connect string
	replay  string
	watch   time.Duration
	format  profile.Format
}

// newFlagSet defines the command line. Values are read back by name in
// applyFlags and main.
func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("kahlua", flag.ExitOnError)
	fs.String("config", "", "Configuration file (default: kahlua.toml found upwards from the working directory)")
	fs.Bool("jit", false, "Run fully covered functions as generated code")
	fs.Bool("S", false, "Print the generated code listing instead of running the script")
	fs.Bool("trace", false, "Log every instruction the code generator translates")
	fs.Duration("profile", 0, "Attach the sampling profiler with this period (e.g. 10ms)")
	fs.String("profile-id", "", "Identifier stamped on samples (default: random UUID)")
	fs.String("profile-out", "", "Record samples to a CBOR file")
	fs.String("profile-db", "", "Store samples in a SQLite database")
	fs.String("report", "", "Profile report format: text, yaml or folded")
	fs.Int("top", 0, "Number of functions and lines in the report")
	fs.String("serve", "", "Serve the aggregated profile over gRPC on this address")
	fs.String("connect", "", "Print the profile served at this address and exit")
	fs.Duration("watch", 0, "With -connect, keep printing the profile at this interval")
	fs.String("replay", "", "Print the profile of a CBOR sample recording and exit")
	fs.Int("v", 0, "Log verbosity (0 errors only, 1 info, 2 debug)")

	fs.Usage = func() {
		w := fs.Output()
		fmt.Fprintf(w, "Usage: kahlua [options] script.lua [args...]\n\n")
		fmt.Fprintf(w, "Runs a Lua script. Use - to read the script from standard input.\n\n")
		fmt.Fprintf(w, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(w, "\nExamples:\n")
		fmt.Fprintf(w, "  kahlua -jit fib.lua                      # Run with generated code\n")
		fmt.Fprintf(w, "  kahlua -S fib.lua                        # Show the generated code\n")
		fmt.Fprintf(w, "  kahlua -profile 1ms -report yaml fib.lua # Profile and print a YAML report\n")
		fmt.Fprintf(w, "  kahlua -profile 1ms -serve :7070 srv.lua # Serve the profile while running\n")
		fmt.Fprintf(w, "  kahlua -connect localhost:7070 -top 10   # Query a running profile server\n")
		fmt.Fprintf(w, "  kahlua -replay run.cbor -report folded   # Collapsed stacks for flame graphs\n")
	}
	return fs
}

func flagValue[T any](fs *flag.FlagSet, name string) T {
	return fs.Lookup(name).Value.(flag.Getter).Get().(T)
}

// applyFlags copies the flags given on the command line over the
// configuration file values. Flags left at their defaults do not override.
func applyFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "jit":
			cfg.JIT.Enabled = flagValue[bool](fs, f.Name)
		case "S":
			cfg.JIT.Listing = flagValue[bool](fs, f.Name)
		case "trace":
			cfg.JIT.Trace = flagValue[bool](fs, f.Name)
		case "profile":
			period := flagValue[time.Duration](fs, f.Name)
			cfg.Sampler.Enabled = period > 0
			if period > 0 {
				cfg.Sampler.Period = period
			}
		case "profile-id":
			cfg.Sampler.ID = flagValue[string](fs, f.Name)
		case "profile-out":
			cfg.Profile.Recording = flagValue[string](fs, f.Name)
		case "profile-db":
			cfg.Profile.Database = flagValue[string](fs, f.Name)
		case "report":
			cfg.Profile.Report = flagValue[string](fs, f.Name)
		case "top":
			cfg.Profile.Top = flagValue[int](fs, f.Name)
		case "serve":
			cfg.Profile.Serve = flagValue[string](fs, f.Name)
		case "v":
			cfg.Log.Verbosity = flagValue[int](fs, f.Name)
		}
	})
}

// newOptions merges the command line into the configuration found at
// -config (or upwards from the working directory) and validates the result.
func newOptions(fs *flag.FlagSet) (*options, error) {
	cfg, err := loadConfig(flagValue[string](fs, "config"))
	if err != nil {
		return nil, err
	}
	applyFlags(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, _ := profile.ParseFormat(cfg.Profile.Report)
	return &options{
		cfg:     cfg,
		listing: cfg.JIT.Listing,
		connect: flagValue[string](fs, "connect"),
		replay:  flagValue[string](fs, "replay"),
		watch:   flagValue[time.Duration](fs, "watch"),
		format:  format,
	}, nil
}

func main() {
	fs := newFlagSet()
	fs.Parse(os.Args[1:])

	opts, err := newOptions(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kahlua: %v\n", err)
		os.Exit(2)
	}
	cfg := opts.cfg

	var logFile *string
	if cfg.Log.File != "" {
		path := cfg.Resolve(cfg.Log.File)
		logFile = &path
	}
	commonlog.Configure(cfg.Log.Verbosity, logFile)

	switch {
	case opts.connect != "":
		err = query(opts)
	case opts.replay != "":
		err = replayRecording(os.Stdout, opts)
	case fs.NArg() == 0:
		fs.Usage()
		os.Exit(2)
	default:
		err = run(opts, fs.Arg(0), fs.Args()[1:])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kahlua: %v\n", err)
		var re *vm.RuntimeError
		if errors.As(err, &re) && cfg.Log.Verbosity > 0 && re.Traceback != "" {
			fmt.Fprintln(os.Stderr, re.Traceback)
		}
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}
