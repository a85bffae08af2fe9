package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/ingest"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/timealign"
	"github.com/couchcryptid/storm-overlap-engine/internal/tracks"
)

const stampLayout = "2006-01-02 15:04"

func newInspectCmd() *cobra.Command {
	var f inputFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the configured inputs and their time coverage without evaluating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			f.apply(cfg)
			if cfg.TracksPath == "" {
				return errors.New("TRACKS_PATH is required")
			}
			logger := slog.New(slog.DiscardHandler)
			in, err := ingest.NewLoader(cfg, logger, observability.NewUnregisteredMetrics()).Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeInspection(cmd.OutOrStdout(), cfg.Aligner(), in)
		},
	}
	f.register(cmd)
	return cmd
}

// writeInspection prints track statistics and, per loaded source, how many
// distinct track timestamps the aligner resolves against its time axis.
func writeInspection(w io.Writer, al timealign.Aligner, in *ingest.Inputs) error {
	ts := tracks.Timestamps(in.Tracks)
	points := 0
	for _, t := range in.Tracks {
		points += len(t.Points)
	}

	fmt.Fprintf(w, "tracks: %d (%s dialect), points: %d, timestamps: %d\n",
		len(in.Tracks), in.Dialect, points, len(ts))
	if len(ts) > 0 {
		fmt.Fprintf(w, "span: %s .. %s, modal interval: %s\n",
			ts[0].Format(stampLayout), ts[len(ts)-1].Format(stampLayout), tracks.ModalInterval(in.Tracks))
	}
	fmt.Fprintf(w, "time policy: %s\n\n", al.Policy)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tVARIABLE\tLAT x LON\tSTEPS\tFIRST\tLAST\tRESOLVED")
	for _, k := range domain.GriddedKinds {
		f := in.Sources.Fields[k]
		if f == nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\tnot loaded\n", k)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d x %d\t%d\t%s\t%s\t%d/%d\n",
			k, f.Name, len(f.Lat), len(f.Lon), len(f.Times),
			first(f.Times), last(f.Times), resolved(al, ts, f.Times), len(ts))
	}
	if c := in.Sources.Companion; c != nil {
		fmt.Fprintf(tw, "%s\t-\t-\t%d\t%s\t%s\t%d/%d\n",
			domain.KindCompanion, len(c.Times), first(c.Times), last(c.Times), resolved(al, ts, c.Times), len(ts))
	} else {
		fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\tnot loaded\n", domain.KindCompanion)
	}
	if in.Mask != nil {
		fmt.Fprintln(tw, "land mask\t-\t-\t-\t-\t-\tloaded")
	}
	return tw.Flush()
}

func resolved(al timealign.Aligner, targets, axis []time.Time) int {
	n := 0
	for _, t := range targets {
		if _, ok := al.Resolve(domain.Discretize(t), axis); ok {
			n++
		}
	}
	return n
}

func first(ts []time.Time) string {
	if len(ts) == 0 {
		return "-"
	}
	return ts[0].Format(stampLayout)
}

func last(ts []time.Time) string {
	if len(ts) == 0 {
		return "-"
	}
	return ts[len(ts)-1].Format(stampLayout)
}
