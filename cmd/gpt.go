package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/types"
	"github.com/deploymenttheory/go-qdl/pkg/app"
)

var (
	gptShowLBA    uint64
	gptShowBackup bool
)

var gptCmd = &cobra.Command{
	Use:   "gpt",
	Short: "Show or repair the partition table of a LUN",
}

var gptShowCmd = &cobra.Command{
	Use:   "show <lun>",
	Short: "Print the GPT header and partition entries of a LUN",
	Long: `Print the GPT of a LUN. By default the primary table is read and the
backup table is used when the primary fails its checksums. --backup reads the
backup table the primary header points at, --lba reads the header at a given
sector.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lun, err := parseLUNArg(args[0])
		if err != nil {
			return err
		}
		return withSession(func(s *session) error {
			var (
				table *gpt.GPT
				err   error
			)
			switch {
			case gptShowBackup:
				// The backup location comes from the stored primary, never from a fallback copy.
				primary, err := s.dev.ReadGptAt(appCtx, lun, types.GPTPrimaryHeaderLBA)
				if err != nil {
					return app.Classify(fmt.Sprintf("failed to read primary GPT of LUN %d", lun), err)
				}
				table, err = s.dev.ReadGptAt(appCtx, lun, primary.Header.AlternateLBA)
				if err != nil {
					return app.Classify(fmt.Sprintf("failed to read backup GPT of LUN %d", lun), err)
				}
			case gptShowLBA != 0:
				table, err = s.dev.ReadGptAt(appCtx, lun, gptShowLBA)
				if err != nil {
					return app.Classify(fmt.Sprintf("failed to read GPT of LUN %d at LBA %d", lun, gptShowLBA), err)
				}
			default:
				table, err = s.dev.GetGpt(appCtx, lun, 0)
				if err != nil {
					return app.Classify(fmt.Sprintf("failed to read GPT of LUN %d", lun), err)
				}
			}
			return appCtx.Render(newGPTResult(lun, table))
		})
	},
}

var gptRepairCmd = &cobra.Command{
	Use:   "repair <lun> <primary-gpt-image>",
	Short: "Rewrite the primary header and the backup table from a primary GPT image",
	Long: `Rewrite the partition tables of a LUN from a primary GPT image such as
gpt_main0.bin. The image holds the header sector followed by the entry array
and may start with a protective MBR sector.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lun, err := parseLUNArg(args[0])
		if err != nil {
			return err
		}
		image, err := os.ReadFile(args[1])
		if err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "failed to read GPT image", err)
		}
		return withSession(func(s *session) error {
			ok, err := s.dev.RepairGpt(appCtx, lun, image)
			if err != nil {
				return app.Classify(fmt.Sprintf("failed to repair GPT of LUN %d", lun), err)
			}
			if !ok {
				return app.NewError(app.ErrCodeRefused, fmt.Sprintf("device refused GPT write on LUN %d", lun), nil)
			}
			return appCtx.Render(statusResult{Operation: "gpt repair", Target: fmt.Sprintf("LUN %d", lun), OK: true})
		})
	},
}

func init() {
	gptShowCmd.Flags().Uint64Var(&gptShowLBA, "lba", 0, "read the header at this LBA instead of the primary")
	gptShowCmd.Flags().BoolVar(&gptShowBackup, "backup", false, "read the backup table")
	gptShowCmd.MarkFlagsMutuallyExclusive("lba", "backup")

	gptCmd.AddCommand(gptShowCmd, gptRepairCmd)
	rootCmd.AddCommand(gptCmd)
}

func parseLUNArg(arg string) (int, error) {
	lun, err := strconv.Atoi(arg)
	if err != nil || lun < 0 {
		return 0, app.NewError(app.ErrCodeInvalidInput, fmt.Sprintf("invalid LUN %q", arg), err)
	}
	return lun, nil
}

type gptPartition struct {
	Index      int    `json:"index" yaml:"index"`
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	UniqueGUID string `json:"unique_guid" yaml:"unique_guid"`
	Start      uint64 `json:"start_lba" yaml:"start_lba"`
	End        uint64 `json:"end_lba" yaml:"end_lba"`
	Sectors    uint64 `json:"sectors" yaml:"sectors"`
	Attributes string `json:"attributes" yaml:"attributes"`
}

type gptResult struct {
	LUN             int            `json:"lun" yaml:"lun"`
	SectorSize      int            `json:"sector_size" yaml:"sector_size"`
	CurrentLBA      uint64         `json:"current_lba" yaml:"current_lba"`
	AlternateLBA    uint64         `json:"alternate_lba" yaml:"alternate_lba"`
	FirstUsableLBA  uint64         `json:"first_usable_lba" yaml:"first_usable_lba"`
	LastUsableLBA   uint64         `json:"last_usable_lba" yaml:"last_usable_lba"`
	EntriesLBA      uint64         `json:"entries_lba" yaml:"entries_lba"`
	NumEntries      uint32         `json:"num_entries" yaml:"num_entries"`
	DiskGUID        string         `json:"disk_guid" yaml:"disk_guid"`
	HeaderCRCValid  bool           `json:"header_crc_valid" yaml:"header_crc_valid"`
	EntriesCRCValid bool           `json:"entries_crc_valid" yaml:"entries_crc_valid"`
	Slots           []string       `json:"slots" yaml:"slots"`
	Partitions      []gptPartition `json:"partitions" yaml:"partitions"`
}

func newGPTResult(lun int, g *gpt.GPT) gptResult {
	h := g.Header
	r := gptResult{
		LUN:             lun,
		SectorSize:      g.SectorSize,
		CurrentLBA:      h.CurrentLBA,
		AlternateLBA:    h.AlternateLBA,
		FirstUsableLBA:  h.FirstUsableLBA,
		LastUsableLBA:   h.LastUsableLBA,
		EntriesLBA:      h.PartEntriesStartLBA,
		NumEntries:      h.NumPartEntries,
		DiskGUID:        h.DiskGUID.String(),
		HeaderCRCValid:  !g.HeaderCRCMismatch,
		EntriesCRCValid: !g.EntriesCRCMismatch,
		Slots:           g.PartitionsInfo().Slots,
		Partitions:      []gptPartition{},
	}
	for i, e := range g.Entries {
		if e.IsUnused() {
			continue
		}
		r.Partitions = append(r.Partitions, gptPartition{
			Index:      i,
			Name:       e.Name,
			Type:       e.TypeGUID.String(),
			UniqueGUID: e.UniqueGUID.String(),
			Start:      e.StartingLBA,
			End:        e.EndingLBA,
			Sectors:    e.SectorCount(),
			Attributes: fmt.Sprintf("%#016x", e.Attributes),
		})
	}
	return r
}

func (r gptResult) Table() app.Table {
	t := app.Table{Headers: []string{"#", "NAME", "START", "END", "SIZE", "ATTRIBUTES", "TYPE"}}
	for _, p := range r.Partitions {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(p.Index),
			p.Name,
			strconv.FormatUint(p.Start, 10),
			strconv.FormatUint(p.End, 10),
			formatBytes(p.Sectors * uint64(r.SectorSize)),
			p.Attributes,
			p.Type,
		})
	}
	t.Footer = []string{
		"",
		fmt.Sprintf("LUN %d: header at LBA %d, backup at LBA %d, entries at LBA %d (%d slots)",
			r.LUN, r.CurrentLBA, r.AlternateLBA, r.EntriesLBA, r.NumEntries),
		fmt.Sprintf("Usable LBAs %d-%d, disk GUID %s", r.FirstUsableLBA, r.LastUsableLBA, r.DiskGUID),
		fmt.Sprintf("Header CRC valid: %t, entries CRC valid: %t", r.HeaderCRCValid, r.EntriesCRCValid),
	}
	return t
}
