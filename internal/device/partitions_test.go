package device

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt/gpttest"
)

const lunSectors = 8192

func layoutWith(sectorSize int, parts ...gpttest.Partition) gpttest.Layout {
	return gpttest.Primary(sectorSize, lunSectors, parts...)
}

func TestGetGpt(t *testing.T) {
	ctx := context.Background()

	t.Run("primary table", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, lunSectors)
		fh.addLayout(0, layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 6, End: 100}))
		d, _ := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), g.Header.CurrentLBA)
		assert.True(t, g.Valid())
		_, ok := g.LocatePartition("userdata")
		assert.True(t, ok)
	})

	t.Run("corrupt primary falls back to backup", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, lunSectors)
		fh.addLayout(0, layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 6, End: 100}))
		// Damage the primary entry array.
		fh.corrupt(0, 2, 10)
		d, hook := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(lunSectors-1), g.Header.CurrentLBA)
		assert.True(t, g.Valid())

		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	})

	t.Run("corrupt primary header falls back to backup", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, lunSectors)
		fh.addLayout(0, layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 6, End: 100}))
		// Top byte of PartitionEntryLBA, the entries would be read far past the LUN.
		fh.corrupt(0, 1, 79)
		d, hook := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(lunSectors-1), g.Header.CurrentLBA)
		assert.True(t, g.Valid())
		_, ok := g.LocatePartition("userdata")
		assert.True(t, ok)

		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	})

	t.Run("corrupt primary header without backup returns primary", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, lunSectors)
		layout := layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 6, End: 100})
		fh.addLayout(0, layout)
		// Reserved header bytes only change the checksum.
		fh.corrupt(0, 1, 20)
		fh.corrupt(0, layout.Backup().Header.PartEntriesStartLBA, 10)
		d, _ := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), g.Header.CurrentLBA)
		assert.True(t, g.HeaderCRCMismatch)
		assert.False(t, g.EntriesCRCMismatch)
	})

	t.Run("both tables corrupt returns primary", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, lunSectors)
		layout := layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 6, End: 100})
		fh.addLayout(0, layout)
		fh.corrupt(0, 2, 10)
		backupEntries := layout.Backup().Header.PartEntriesStartLBA
		fh.corrupt(0, backupEntries, 10)
		d, _ := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), g.Header.CurrentLBA)
		assert.True(t, g.EntriesCRCMismatch)
	})

	t.Run("forced lba reads that header", func(t *testing.T) {
		fh := newFakeFirehose(512)
		fh.addLUN(0, lunSectors)
		fh.addLayout(0, layoutWith(512))
		d, _ := newTestDevice(t, fh)

		g, err := d.GetGpt(ctx, 0, lunSectors-1)
		require.NoError(t, err)
		assert.Equal(t, uint64(lunSectors-1), g.Header.CurrentLBA)
		assert.Equal(t, uint64(1), g.Header.AlternateLBA)
		assert.Equal(t, uint64(lunSectors-1-32), g.Header.PartEntriesStartLBA)
	})

	t.Run("blank LUN is a format error", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		fh.addLUN(0, 64)
		d, _ := newTestDevice(t, fh)

		_, err := d.GetGpt(ctx, 0, 0)
		var formatErr *gpt.FormatError
		require.True(t, errors.As(err, &formatErr))
		assert.ErrorIs(t, err, gpt.ErrInvalidSignature)
	})
}

func TestReadGptAt(t *testing.T) {
	ctx := context.Background()
	fh := newFakeFirehose(4096)
	fh.addLUN(0, lunSectors)
	fh.addLayout(0, layoutWith(4096))
	// No fallback from a damaged primary.
	fh.corrupt(0, 2, 10)
	d, _ := newTestDevice(t, fh)

	tests := []struct {
		name          string
		lba           uint64
		wantCurrent   uint64
		wantEntriesOK bool
		wantErr       bool
	}{
		{name: "primary as stored", lba: 1, wantCurrent: 1},
		{name: "backup header", lba: lunSectors - 1, wantCurrent: lunSectors - 1, wantEntriesOK: true},
		{name: "protective MBR sector", lba: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := d.ReadGptAt(ctx, 0, tt.lba)
			if tt.wantErr {
				var formatErr *gpt.FormatError
				assert.ErrorAs(t, err, &formatErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrent, g.Header.CurrentLBA)
			assert.Equal(t, !tt.wantEntriesOK, g.EntriesCRCMismatch)
		})
	}
}

func TestDetectPartition(t *testing.T) {
	ctx := context.Background()
	fh := newFakeFirehose(4096)
	for _, lun := range []int{5, 1, 2, 3, 4} {
		fh.addLUN(lun, lunSectors)
		fh.addLayout(lun, layoutWith(4096, gpttest.Partition{Name: "xbl_a", Start: 6, End: 10}))
	}
	fh.addLayout(2, layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 2048, End: 4095}))
	fh.addLayout(4, layoutWith(4096, gpttest.Partition{Name: "userdata", Start: 100, End: 200}))
	d, _ := newTestDevice(t, fh)

	loc, found, err := d.DetectPartition(ctx, "userdata")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, loc.LUN)
	assert.Equal(t, uint64(2048), loc.Entry.StartingLBA)
	assert.Equal(t, uint64(2048), loc.Entry.SectorCount())
	require.NotNil(t, loc.GPT)

	loc, found, err = d.DetectPartition(ctx, "modem")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, loc.GPT)
}

func TestGetDevicePartitionsInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("no LUNs", func(t *testing.T) {
		d, _ := newTestDevice(t, newFakeFirehose(4096))
		count, names, err := d.GetDevicePartitionsInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
		assert.Equal(t, []string{}, names)
	})

	t.Run("names merged across LUNs", func(t *testing.T) {
		fh := newFakeFirehose(4096)
		for lun := 1; lun <= 5; lun++ {
			fh.addLUN(lun, lunSectors)
			fh.addLayout(lun, layoutWith(4096,
				gpttest.Partition{Name: "userdata", Start: 6, End: 10},
				gpttest.Partition{Name: "cache", Start: 11, End: 20},
			))
		}
		d, _ := newTestDevice(t, fh)

		count, names, err := d.GetDevicePartitionsInfo(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.ElementsMatch(t, []string{"userdata", "cache"}, names)
	})
}

func TestGetActiveSlot(t *testing.T) {
	ctx := context.Background()
	conv := gpt.DefaultSlotConvention()

	newDevice := func(activeLUN int) *Device {
		fh := newFakeFirehose(4096)
		for lun := 1; lun <= 5; lun++ {
			fh.addLUN(lun, lunSectors)
			var attrs uint64
			if lun == activeLUN {
				attrs = conv.WithFlags(0, conv.BootActiveFlags)
			}
			fh.addLayout(lun, layoutWith(4096,
				gpttest.Partition{Name: "boot_a", Start: 6, End: 10},
				gpttest.Partition{Name: "boot_b", Start: 11, End: 20, Attributes: attrs},
			))
		}
		d, _ := newTestDevice(t, fh)
		return d
	}

	slot, err := newDevice(3).GetActiveSlot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", slot)

	_, err = newDevice(0).GetActiveSlot(ctx)
	require.ErrorIs(t, err, ErrSlotNotFound)
	assert.Equal(t, "can't detect slot A or B", err.Error())
}
