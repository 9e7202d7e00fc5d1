package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt/gpttest"
	"github.com/deploymenttheory/go-qdl/pkg/app"
)

const (
	testSectorSize = 512
	testSectors    = 2048
)

func testLayout() gpttest.Layout {
	conv := gpt.DefaultSlotConvention()
	return gpttest.Primary(testSectorSize, testSectors,
		gpttest.Partition{Name: "boot_a", Start: 34, End: 99, Attributes: conv.WithFlags(0, conv.BootActiveFlags)},
		gpttest.Partition{Name: "boot_b", Start: 100, End: 165, Attributes: conv.WithFlags(0, conv.BootInactiveFlags)},
		gpttest.Partition{Name: "system_a", Start: 166, End: 1000},
		gpttest.Partition{Name: "system_b", Start: 1001, End: 1900},
	)
}

// writeLUN creates a LUN image holding both copies of the test table.
func writeLUN(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "lun0.img")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(testSectors*testSectorSize))

	for _, table := range []*gpt.GPT{testLayout().Table(), testLayout().Backup()} {
		hdr, ent := table.Serialize()
		_, err = f.WriteAt(hdr, int64(table.Header.CurrentLBA)*testSectorSize)
		require.NoError(t, err)
		_, err = f.WriteAt(ent, int64(table.Header.PartEntriesStartLBA)*testSectorSize)
		require.NoError(t, err)
	}
	return path
}

type testEnv struct {
	dir    string
	lun    string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	dir := t.TempDir()
	config := filepath.Join(dir, "qdl-config.yaml")
	require.NoError(t, os.WriteFile(config, []byte("log_level: error\nconnect_retries: 0\n"), 0o644))
	return testEnv{dir: dir, lun: writeLUN(t, dir), config: config}
}

// run executes the root command with the LUN image and config of env.
func (env testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile, lunFlags, sectorSize = "", nil, 4096
	verbose, quiet, outputFormat = false, false, "table"
	gptShowLBA, gptShowBackup, flashNoErase, erasePreserve = 0, false, false, nil
	gptShowCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{
		"--config", env.config,
		"--lun", "0=" + env.lun,
		"--sector-size", "512",
	}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestGPTShowWithDamagedPrimary(t *testing.T) {
	env := newTestEnv(t)
	f, err := os.OpenFile(env.lun, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, 2*testSectorSize+10)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	tests := []struct {
		name           string
		args           []string
		wantCurrent    uint64
		wantEntriesCRC bool
	}{
		{name: "default falls back to backup", wantCurrent: testSectors - 1, wantEntriesCRC: true},
		{name: "backup flag reads the backup", args: []string{"--backup"}, wantCurrent: testSectors - 1, wantEntriesCRC: true},
		{name: "lba flag reads the damaged primary", args: []string{"--lba", "1"}, wantCurrent: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run(t, append([]string{"gpt", "show", "0", "-o", "json"}, tt.args...)...)
			require.NoError(t, err)

			var got gptResult
			require.NoError(t, json.Unmarshal([]byte(out), &got))
			assert.Equal(t, tt.wantCurrent, got.CurrentLBA)
			assert.True(t, got.HeaderCRCValid)
			assert.Equal(t, tt.wantEntriesCRC, got.EntriesCRCValid)
		})
	}
}

func TestPartitionsCommand(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "partitions", "-o", "json")
	require.NoError(t, err)

	var got partitionsResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, []string{"boot_a", "boot_b", "system_a", "system_b"}, got.Partitions)

	out, err = env.run(t, "partitions")
	require.NoError(t, err)
	assert.Contains(t, out, "PARTITION\n---------\nboot_a\n")
	assert.Contains(t, out, "4 partitions")
}

func TestGPTShowCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("primary", func(t *testing.T) {
		out, err := env.run(t, "gpt", "show", "0", "-o", "json")
		require.NoError(t, err)

		var got gptResult
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, uint64(1), got.CurrentLBA)
		assert.Equal(t, uint64(testSectors-1), got.AlternateLBA)
		assert.True(t, got.HeaderCRCValid)
		assert.True(t, got.EntriesCRCValid)
		assert.Equal(t, []string{"a", "b"}, got.Slots)
		require.Len(t, got.Partitions, 4)
		assert.Equal(t, "system_b", got.Partitions[3].Name)
		assert.Equal(t, uint64(900), got.Partitions[3].Sectors)
		assert.Equal(t, gpttest.LinuxDataGUID, got.Partitions[3].Type)
	})

	t.Run("backup", func(t *testing.T) {
		out, err := env.run(t, "gpt", "show", "0", "--backup", "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "current_lba: 2047")
		assert.Contains(t, out, "entries_lba: 2015")
	})

	t.Run("table", func(t *testing.T) {
		out, err := env.run(t, "gpt", "show", "0")
		require.NoError(t, err)
		assert.Contains(t, out, "system_a")
		assert.Contains(t, out, "Header CRC valid: true, entries CRC valid: true")
	})

	t.Run("bad LUN argument", func(t *testing.T) {
		_, err := env.run(t, "gpt", "show", "zero")
		var common *app.CommonError
		require.ErrorAs(t, err, &common)
		assert.Equal(t, app.ErrCodeInvalidInput, common.Code)
	})
}

func TestFlashCommand(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("Z"), 4096)
	imagePath := filepath.Join(env.dir, "system.img")
	require.NoError(t, os.WriteFile(imagePath, payload, 0o644))

	out, err := env.run(t, "flash", "system_b", imagePath)
	require.NoError(t, err)
	assert.Contains(t, out, "flash system_b: done")

	lun, err := os.ReadFile(env.lun)
	require.NoError(t, err)
	assert.Equal(t, payload, lun[1001*testSectorSize:1001*testSectorSize+len(payload)])

	_, err = env.run(t, "flash", "vendor_a", imagePath)
	var common *app.CommonError
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeNotFound, common.Code)
	assert.Contains(t, err.Error(), "partition vendor_a not found")

	_, err = env.run(t, "flash", "system_b", filepath.Join(env.dir, "missing.img"))
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeInvalidInput, common.Code)
}

func TestSlotCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "slot")
	require.NoError(t, err)
	assert.Contains(t, out, "active slot: a")

	out, err = env.run(t, "slot", "set", "b")
	require.NoError(t, err)
	assert.Contains(t, out, "slot set b: done")

	out, err = env.run(t, "slot", "-o", "json")
	require.NoError(t, err)
	var got slotResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "b", got.Slot)

	_, err = env.run(t, "slot", "set", "c")
	var common *app.CommonError
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeInvalidInput, common.Code)
}

func TestEraseCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "erase", "boot_b")
	require.NoError(t, err)
	assert.Contains(t, out, "erase boot_b: done")

	out, err = env.run(t, "erase-lun", "0", "--preserve", "boot_a")
	require.NoError(t, err)
	assert.Contains(t, out, "erase-lun LUN 0: done")
}

func TestGPTRepairCommand(t *testing.T) {
	env := newTestEnv(t)
	hdr, ent := testLayout().Sectors()
	imagePath := filepath.Join(env.dir, "gpt_main0.bin")
	require.NoError(t, os.WriteFile(imagePath, append(append(make([]byte, testSectorSize), hdr...), ent...), 0o644))

	out, err := env.run(t, "gpt", "repair", "0", imagePath)
	require.NoError(t, err)
	assert.Contains(t, out, "gpt repair LUN 0: done")
}

func TestDeviceCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "storage-info", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "mem_type: image")

	out, err = env.run(t, "storage-info")
	require.NoError(t, err)
	assert.Contains(t, out, "total_blocks")
	assert.Contains(t, out, "2048")

	out, err = env.run(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "reset device: done")
}

func TestGlobalFlagErrors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "partitions", "-o", "xml")
	var common *app.CommonError
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeInvalidInput, common.Code)

	_, err = env.run(t, "partitions", "--sector-size", "1000")
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeInvalidInput, common.Code)

	_, err = env.run(t, "partitions", "--lun", "x")
	require.ErrorAs(t, err, &common)
	assert.Equal(t, app.ErrCodeInvalidInput, common.Code)
}

func TestParseLUNFlags(t *testing.T) {
	got, err := parseLUNFlags([]string{"0=/tmp/a.img", "3=/tmp/b.img"})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "/tmp/a.img", 3: "/tmp/b.img"}, got)

	for _, bad := range []string{"0", "=x", "-1=x", "0="} {
		_, err := parseLUNFlags([]string{bad})
		assert.Error(t, err, bad)
	}
}
