package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/gigfork/kahlua2/profile"
)

// query prints the profile served at opts.connect, once or every
// opts.watch until interrupted.
func query(opts *options) error {
	c, err := profile.Dial(opts.connect)
	if err != nil {
		return err
	}
	defer c.Close()

	top := opts.cfg.Profile.Top
	if opts.watch <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := c.Snapshot(ctx, &profile.SnapshotRequest{Top: top})
		if err != nil {
			return fmt.Errorf("querying %s: %w", opts.connect, err)
		}
		return profile.WriteReport(os.Stdout, *snap, opts.format)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	err = c.Watch(ctx, &profile.WatchRequest{Top: top, Interval: opts.watch}, func(snap *profile.Snapshot) error {
		fmt.Fprintf(os.Stdout, "--- %s\n", time.Now().Format(time.TimeOnly))
		return profile.WriteReport(os.Stdout, *snap, opts.format)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// replayRecording aggregates a sample recording and writes its profile to w.
func replayRecording(w io.Writer, opts *options) error {
	f, err := os.Open(opts.replay)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := profile.ReadRecording(bufio.NewReader(f))
	if err != nil {
		if len(records) == 0 {
			return err
		}
		log.Errorf("%s: %v; reporting the %d complete samples", opts.replay, err, len(records))
	}
	agg := profile.NewAggregator()
	for _, r := range records {
		agg.Add(r)
	}
	return profile.WriteReport(w, agg.Snapshot(opts.cfg.Profile.Top), opts.format)
}
