package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	upscaler "github.com/menta2k/upscale-images"
	"github.com/menta2k/upscale-images/internal/config"
	"github.com/menta2k/upscale-images/internal/utils"
	"github.com/menta2k/upscale-images/pkg/geometry"
)

// flag name -> config key
var flagKeys = map[string]string{
	"out":      "output.output_dir",
	"format":   "output.format",
	"quality":  "output.quality",
	"lossless": "output.lossless",
	"workers":  "processing.workers",
	"filter":   "processing.filter",
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)
	v := config.NewViper()
	fs := afero.NewOsFs()

	root := &cobra.Command{
		Use:           "upscale-images",
		Short:         "Resize images to fixed sizes, upscaling small ones",
		Version:       upscaler.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `upscale-images resizes images to a set of named target sizes.

Unlike the usual thumbnail pipelines, images smaller than a target size are
upscaled too. Cropped sizes are filled exactly from the centered region of
the source; other sizes fit inside their box keeping the aspect ratio.

Settings come from flags, UPSCALE_* environment variables and the config file,
in that order of precedence. Without --config the file at
` + config.DefaultPath() + ` is used when it exists.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(verbose)
			path := cfgFile
			if path == "" && utils.FileExists(fs, config.DefaultPath()) {
				path = config.DefaultPath()
			}
			if path == "" {
				return nil
			}
			if err := config.ReadFile(v, path); err != nil {
				return err
			}
			log.Debug().Msgf("using config %s", path)
			return nil
		},
	}

	persistent := root.PersistentFlags()
	persistent.StringVarP(&cfgFile, "config", "c", "", "config file path (json, yaml or toml)")
	persistent.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newResizeCmd(v), newGeometryCmd(v), newInitConfigCmd(v, fs))
	return root
}

func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func addProcessingFlags(flags *pflag.FlagSet) {
	def := config.Default()
	flags.StringP("out", "o", def.Output.OutputDir, "output directory")
	flags.StringP("format", "f", def.Output.Format, "output format: jpg|png|gif|webp")
	flags.IntP("quality", "q", def.Output.Quality, "JPEG/WebP output quality (1-100)")
	flags.Bool("lossless", def.Output.Lossless, "WebP lossless mode")
	flags.IntP("workers", "w", def.Processing.Workers, "concurrent resize workers")
	flags.String("filter", def.Processing.Filter, "resample filter: nearest|approx-bilinear|bilinear|catmullrom")
	flags.Bool("no-upscale", false, "keep the stock policy and never enlarge images")
	flags.StringSliceP("size", "s", nil, "only write the named sizes (repeatable)")
}

// bindFlags wires changed flags into v so that they take precedence over
// the environment and the config file.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	if noUpscale, err := flags.GetBool("no-upscale"); err == nil && noUpscale {
		v.Set("processing.upscale", false)
	}
	return nil
}

func newUpscaler(v *viper.Viper, flags *pflag.FlagSet) (*upscaler.Upscaler, error) {
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	if names, err := flags.GetStringSlice("size"); err == nil {
		if err := cfg.Only(names...); err != nil {
			return nil, err
		}
	}
	return upscaler.NewWithConfig(cfg)
}

func newResizeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resize <file|dir|url>...",
		Short: "Write every configured size of the given images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := newUpscaler(v, cmd.Flags())
			if err != nil {
				return err
			}

			outputs, err := u.Process(cmd.Context(), args)
			for _, o := range outputs {
				log.Info().Str("size", o.Size).Str("source", o.Source).Msgf("wrote %s", o.Path)
			}
			if err != nil {
				return err
			}
			log.Info().Msgf("%d images written", len(outputs))
			return nil
		},
	}
	addProcessingFlags(cmd.Flags())
	return cmd
}

func newGeometryCmd(v *viper.Viper) *cobra.Command {
	var (
		crop   bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "geometry ORIG_W ORIG_H DEST_W DEST_H",
		Short: "Print the resample geometry for an image size",
		Long: `Print dst_x dst_y src_x src_y dst_w dst_h src_w src_h for resizing an
ORIG_W x ORIG_H image to DEST_W x DEST_H. A zero DEST_W or DEST_H is derived
from the other one.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dims [4]int
			for i, arg := range args {
				n, err := strconv.Atoi(arg)
				if err != nil || n < 0 {
					return fmt.Errorf("invalid dimension %q", arg)
				}
				dims[i] = n
			}

			u, err := newUpscaler(v, cmd.Flags())
			if err != nil {
				return err
			}

			g, ok := u.Geometry(dims[0], dims[1], dims[2], dims[3], crop)
			if !ok {
				g = geometry.Geometry{}
				log.Info().Msg("no resize needed")
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(g)
			}
			vals := g.Values()
			_, err = fmt.Fprintln(out, vals[0], vals[1], vals[2], vals[3], vals[4], vals[5], vals[6], vals[7])
			return err
		},
	}
	cmd.Flags().BoolVar(&crop, "crop", false, "crop to fill the target exactly")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the geometry as JSON")
	cmd.Flags().Bool("no-upscale", false, "keep the stock policy and never enlarge images")
	return cmd
}

func newInitConfigCmd(v *viper.Viper, fs afero.Fs) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the configuration in effect to a JSON file",
		Long: `Write the configuration in effect (defaults, UPSCALE_* variables and the
--config file) to path, or to ` + config.DefaultPath() + ` when no path is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			if utils.FileExists(fs, path) && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			if err := cfg.SaveToFile(fs, path); err != nil {
				return err
			}
			log.Info().Msgf("wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
