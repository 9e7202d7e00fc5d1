package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/internal/device"
	"github.com/deploymenttheory/go-qdl/internal/imagefile"
	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var flashNoErase bool

var flashCmd = &cobra.Command{
	Use:   "flash <partition> <image>",
	Short: "Write a raw or Android sparse image to a partition",
	Long: `Write an image to the named partition, searching the LUNs in ascending
order. Sparse images are expanded on the fly and, unless --no-erase is given
or erase_before_sparse is false, the partition is erased first. Images may be
gzip, zstd or bzip2 compressed.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, path := args[0], args[1]

		image, err := imagefile.Open(path)
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "failed to open image", err)
		}
		defer image.Close()
		appCtx.Logger.WithField("format", image.Format).Debugf("opened %s", path)

		return withSession(func(s *session) error {
			progress := appCtx.NewProgress(partition, image.Size())
			ok, err := s.dev.FlashBlob(appCtx, partition, image.SectionReader,
				device.WithProgress(progress.Add),
				device.WithEraseBeforeSparse(cfg.EraseBeforeSparse && !flashNoErase),
			)
			if err != nil {
				return app.Classify(fmt.Sprintf("failed to flash %s", partition), err)
			}
			if !ok {
				return app.NewError(app.ErrCodeRefused, fmt.Sprintf("device refused write to %s", partition), nil)
			}
			progress.Done()
			return appCtx.Render(statusResult{
				Operation: "flash",
				Target:    partition,
				OK:        true,
				Detail:    fmt.Sprintf("%s %s image", formatBytes(uint64(progress.Update().Completed)), image.Format),
			})
		})
	},
}

func init() {
	flashCmd.Flags().BoolVar(&flashNoErase, "no-erase", false, "do not erase the partition before writing a sparse image")
	rootCmd.AddCommand(flashCmd)
}
