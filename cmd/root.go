package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/internal/config"
	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var (
	// Global flags
	configFile   string
	lunFlags     []string
	sectorSize   int
	verbose      bool
	quiet        bool
	outputFormat string

	appCtx *app.Context
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "qdl",
	Short: "Qualcomm EDL partition and flashing tool",
	Long: `qdl drives a Qualcomm device in emergency download mode through its
firehose programmer: it reads and repairs GPT partition tables, flashes raw
and Android sparse images to named partitions, erases partitions or whole
LUNs, and switches the active A/B boot slot.

Without a USB backend the LUNs are raw image files given with --lun N=path
or the luns section of qdl-config.yaml.

Commands:
  gpt          Show or repair the partition table of a LUN
  partitions   List partition names across all LUNs
  flash        Write an image to a partition
  erase        Erase a partition
  erase-lun    Erase a LUN around its preserved partitions
  slot         Show or set the active A/B slot
  storage-info Show the storage description reported by the device
  reset        Reboot the device`,
	Version:       "0.1.0-dev",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		appCtx = app.NewContext()
		appCtx.Context = cmd.Context()
		appCtx.OutputFormat = outputFormat
		appCtx.Verbose = verbose
		appCtx.Quiet = quiet
		appCtx.Out = cmd.OutOrStdout()
		appCtx.ErrOut = cmd.ErrOrStderr()

		switch outputFormat {
		case app.FormatTable, app.FormatJSON, app.FormatYAML:
		default:
			return app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("unsupported output format: %s", outputFormat), nil)
		}

		loaded, err := config.Load(config.New(configFile))
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "failed to load configuration", err)
		}
		if cmd.Flags().Changed("sector-size") {
			loaded.SectorSize = sectorSize
			if err := loaded.Validate(); err != nil {
				return app.NewError(app.ErrCodeInvalidInput, "invalid --sector-size", err)
			}
		}
		cfg = loaded
		return appCtx.ConfigureLogging(cfg.LogLevel)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := app.ErrCodeInternal
		var common *app.CommonError
		if errors.As(err, &common) {
			code = common.Code
		}
		fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", code, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches ./qdl-config.yaml, $HOME/.qdl, /etc/qdl)")
	rootCmd.PersistentFlags().StringArrayVar(&lunFlags, "lun", nil, "LUN image as N=path, repeatable")
	rootCmd.PersistentFlags().IntVar(&sectorSize, "sector-size", 4096, "bytes per sector of the storage")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// parseLUNFlags decodes --lun N=path values.
func parseLUNFlags(values []string) (map[int]string, error) {
	out := make(map[int]string, len(values))
	for _, v := range values {
		num, path, ok := strings.Cut(v, "=")
		if !ok || path == "" {
			return nil, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("invalid --lun %q, want N=path", v), nil)
		}
		lun, err := strconv.Atoi(num)
		if err != nil || lun < 0 {
			return nil, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("invalid LUN number in --lun %q", v), err)
		}
		out[lun] = path
	}
	return out, nil
}
