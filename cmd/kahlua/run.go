package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/gigfork/kahlua2/jit"
	"github.com/gigfork/kahlua2/loader"
	"github.com/gigfork/kahlua2/profile"
	"github.com/gigfork/kahlua2/sampler"
	"github.com/gigfork/kahlua2/vm"
)

func run(opts *options, script string, args []string) error {
	cfg := opts.cfg

	src, name, err := readScript(script)
	if err != nil {
		return err
	}

	var jitOpts []jit.Option
	if cfg.JIT.Trace {
		jitOpts = append(jitOpts, jit.WithTrace(jit.LogTrace(log)))
	}
	ld := loader.New(loader.WithCodegen(cfg.JIT.Enabled), loader.WithJITOptions(jitOpts...))

	if opts.listing {
		return printListing(os.Stdout, ld, src, name, jitOpts)
	}

	L := vm.NewState()
	defer L.Close()
	ld.Register(L, nil)
	setArgs(L, script, args)

	cl, err := ld.Compile(src, name, L.Globals())
	if err != nil {
		return err
	}

	var prof *profiling
	if cfg.Sampler.Enabled {
		if prof, err = startProfiling(opts, L); err != nil {
			return err
		}
	}

	guestArgs := make([]vm.Value, len(args))
	for i, a := range args {
		guestArgs[i] = a
	}
	_, runErr := L.Call(cl, guestArgs...)

	if prof != nil {
		prof.stop()
		snap := prof.agg.Snapshot(cfg.Profile.Top)
		if err := profile.WriteReport(os.Stderr, snap, opts.format); err != nil {
			log.Errorf("writing report: %v", err)
		}
		if err := prof.close(); err != nil {
			log.Errorf("%v", err)
		}
	}
	return runErr
}

func readScript(script string) ([]byte, string, error) {
	if script == "-" {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		return data, "stdin", err
	}
	data, err := os.ReadFile(script)
	return data, script, err
}

// setArgs installs the standalone interpreter's arg table: the script at
// index 0, its arguments from 1.
func setArgs(L *vm.State, script string, args []string) {
	t := vm.NewTable(len(args), 1)
	t.Set(0.0, script)
	for i, a := range args {
		t.Set(float64(i+1), a)
	}
	L.Globals().SetString("arg", t)
}

// printListing writes the generated code for the script to w, or reports
// which opcodes kept it from being generated.
func printListing(w io.Writer, ld *loader.Loader, src []byte, name string, jitOpts []jit.Option) error {
	cl, err := ld.Compile(src, name, vm.NewTable(0, 0))
	if err != nil {
		return err
	}
	u, err := jit.Generate(cl.Proto, jitOpts...)
	if err != nil {
		cov := jit.Coverage(cl.Proto)
		fmt.Fprintf(os.Stderr, "%d of %d instructions covered; missing:", cov.Covered, cov.Instructions)
		for _, op := range cov.MissingOpcodes() {
			fmt.Fprintf(os.Stderr, " %s", op)
		}
		fmt.Fprintln(os.Stderr)
		return fmt.Errorf("no listing for %s: %w", name, err)
	}
	_, err = io.WriteString(w, u.Listing())
	return err
}

// profiling is a sampler attached to a running script together with the
// sinks the configuration asks for.
type profiling struct {
	agg     *profile.Aggregator
	sampler *sampler.Sampler
	server  *profile.Server
	closers []func() error
}

func startProfiling(opts *options, L *vm.State) (*profiling, error) {
	cfg := opts.cfg
	p := &profiling{agg: profile.NewAggregator()}
	sinks := profile.Tee{p.agg}

	if path := cfg.Resolve(cfg.Profile.Recording); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		bw := bufio.NewWriter(f)
		rec, err := profile.NewRecorder(bw)
		if err != nil {
			f.Close()
			return nil, err
		}
		sinks = append(sinks, rec)
		p.closers = append(p.closers, func() error {
			defer f.Close()
			if err := rec.Close(); err != nil {
				return err
			}
			log.Infof("recorded %d samples to %s", rec.Count(), path)
			return nil
		})
	}

	if path := cfg.Resolve(cfg.Profile.Database); path != "" {
		store, err := profile.OpenStore(path)
		if err != nil {
			p.close()
			return nil, err
		}
		sinks = append(sinks, store)
		p.closers = append(p.closers, func() error {
			if n := store.Failed(); n > 0 {
				log.Errorf("%d samples could not be stored in %s", n, path)
			}
			return store.Close()
		})
	}

	var samplerOpts []sampler.Option
	if cfg.Sampler.ID != "" {
		samplerOpts = append(samplerOpts, sampler.WithID(cfg.Sampler.ID))
	}
	s, err := sampler.New(L, cfg.Sampler.Period, sinks, samplerOpts...)
	if err != nil {
		p.close()
		return nil, err
	}
	p.sampler = s

	if cfg.Profile.Serve != "" {
		lis, err := net.Listen("tcp", cfg.Profile.Serve)
		if err != nil {
			p.close()
			return nil, err
		}
		p.server = profile.NewServer(p.agg)
		go func() {
			if err := p.server.Serve(lis); err != nil {
				log.Errorf("profile server: %v", err)
			}
		}()
	}

	if err := s.Start(); err != nil {
		if p.server != nil {
			p.server.Stop()
			p.server = nil
		}
		p.close()
		return nil, err
	}
	log.Infof("sampler %s started, period %s", s.ID(), s.Period())
	return p, nil
}

// stop ends sampling and waits for the last tick to reach the sinks.
func (p *profiling) stop() {
	p.sampler.Stop()
	p.sampler.Wait()
	st := p.sampler.Stats()
	log.Infof("sampler %s: %d ticks, %d delivered, %d dropped", p.sampler.ID(), st.Ticks, st.Delivered, st.Dropped)
}

// close releases the sinks. While a profile server is running it first
// keeps serving until the process is interrupted.
func (p *profiling) close() error {
	if p.server != nil {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		log.Infof("script finished; serving profile until interrupted")
		<-ctx.Done()
		cancel()
		p.server.Stop()
	}
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
