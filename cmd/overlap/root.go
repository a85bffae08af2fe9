package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/storm-overlap-engine/internal/config"
)

// inputFlags are path overrides shared by every subcommand.
type inputFlags struct {
	tracks    string
	companion string
	ar        string
	front     string
	vortex    string
	landMask  string
}

func (f *inputFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.tracks, "tracks", "", "candidate track file (TRACKS_PATH)")
	fs.StringVar(&f.companion, "companion", "", "comma-separated companion node files (COMPANION_PATH)")
	fs.StringVar(&f.ar, "ar", "", "atmospheric-river NetCDF mask (AR_PATH)")
	fs.StringVar(&f.front, "front", "", "front NetCDF mask (FRONT_PATH)")
	fs.StringVar(&f.vortex, "vortex", "", "vortex NetCDF mask (VORTEX_PATH)")
	fs.StringVar(&f.landMask, "land-mask", "", "land-sea mask NetCDF (LANDMASK_PATH)")
}

func (f *inputFlags) apply(cfg *config.Config) {
	override(&cfg.TracksPath, f.tracks)
	override(&cfg.CompanionPath, f.companion)
	override(&cfg.ARPath, f.ar)
	override(&cfg.FrontPath, f.front)
	override(&cfg.VortexPath, f.vortex)
	override(&cfg.LandMaskPath, f.landMask)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "overlap",
		Short:         "Classify candidate tracks by co-location with AR, front and vortex objects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newInspectCmd())
	return root
}
