package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
	"github.com/deploymenttheory/go-qdl/internal/parsers/gpt/gpttest"
)

type programCall struct {
	lun    int
	sector uint64
	data   []byte
}

type eraseCall struct {
	lun     int
	start   uint64
	sectors uint64
}

// fakeFirehose keeps every LUN in memory and records the commands it receives.
type fakeFirehose struct {
	sectorSize int
	lunOrder   []int
	disks      map[int]*fakeDisk

	programs []programCall
	erases   []eraseCall
	fixes    map[int]uint32
	bootLUN  int
	resets   int

	// refuseProgram NAKs the n-th program call (1-based).
	refuseProgram int
	refuseErase   bool
	programErr    error
	storageLines  []string
}

var _ interfaces.Firehose = (*fakeFirehose)(nil)

func newFakeFirehose(sectorSize int) *fakeFirehose {
	return &fakeFirehose{
		sectorSize: sectorSize,
		disks:      make(map[int]*fakeDisk),
		fixes:      make(map[int]uint32),
	}
}

// fakeDisk stores only the sectors that were written.
type fakeDisk struct {
	sectors    uint64
	sectorSize int
	data       map[uint64][]byte
}

func (d *fakeDisk) read(sector uint64) []byte {
	if b, ok := d.data[sector]; ok {
		return b
	}
	return make([]byte, d.sectorSize)
}

func (d *fakeDisk) write(sector uint64, data []byte) {
	ss := d.sectorSize
	for i := 0; i < len(data); i += ss {
		buf := append([]byte(nil), d.read(sector)...)
		copy(buf, data[i:])
		d.data[sector] = buf
		sector++
	}
}

// addLUN creates an empty LUN of sectors sectors.
func (f *fakeFirehose) addLUN(lun int, sectors uint64) {
	f.disks[lun] = &fakeDisk{sectors: sectors, sectorSize: f.sectorSize, data: make(map[uint64][]byte)}
	f.lunOrder = append(f.lunOrder, lun)
}

// writeAt copies data into a LUN at a sector.
func (f *fakeFirehose) writeAt(lun int, sector uint64, data []byte) {
	f.disks[lun].write(sector, data)
}

// readAt returns n bytes of a LUN starting at a sector.
func (f *fakeFirehose) readAt(lun int, sector uint64, n int) []byte {
	disk := f.disks[lun]
	var out []byte
	for len(out) < n {
		out = append(out, disk.read(sector)...)
		sector++
	}
	return out[:n]
}

// corrupt flips one byte of a LUN.
func (f *fakeFirehose) corrupt(lun int, sector uint64, offset int) {
	buf := append([]byte(nil), f.disks[lun].read(sector)...)
	buf[offset] ^= 0xFF
	f.disks[lun].data[sector] = buf
}

// addLayout writes a primary table and its mirrored backup into a LUN.
func (f *fakeFirehose) addLayout(lun int, layout gpttest.Layout) {
	primary := layout.Table()
	hdr, ent := primary.Serialize()
	f.writeAt(lun, primary.Header.CurrentLBA, hdr)
	f.writeAt(lun, primary.Header.PartEntriesStartLBA, ent)

	backup := layout.Backup()
	hdr, ent = backup.Serialize()
	f.writeAt(lun, backup.Header.CurrentLBA, hdr)
	f.writeAt(lun, backup.Header.PartEntriesStartLBA, ent)
}

func (f *fakeFirehose) LUNs() []int     { return f.lunOrder }
func (f *fakeFirehose) SectorSize() int { return f.sectorSize }

func (f *fakeFirehose) ReadBuffer(_ context.Context, lun int, startSector, numSectors uint64) ([]byte, error) {
	disk, ok := f.disks[lun]
	if !ok {
		return nil, fmt.Errorf("no LUN %d", lun)
	}
	if startSector+numSectors > disk.sectors {
		return nil, fmt.Errorf("read past end of LUN %d", lun)
	}
	return f.readAt(lun, startSector, int(numSectors)*f.sectorSize), nil
}

func (f *fakeFirehose) Program(_ context.Context, lun int, startSector uint64, data *io.SectionReader, onProgress interfaces.ProgressFunc) (bool, error) {
	if f.programErr != nil {
		return false, f.programErr
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return false, err
	}
	f.programs = append(f.programs, programCall{lun: lun, sector: startSector, data: buf})
	if f.refuseProgram == len(f.programs) {
		return false, nil
	}
	f.writeAt(lun, startSector, buf)
	if onProgress != nil {
		onProgress(len(buf))
	}
	return true, nil
}

func (f *fakeFirehose) Erase(_ context.Context, lun int, startSector, numSectors uint64) (bool, error) {
	f.erases = append(f.erases, eraseCall{lun: lun, start: startSector, sectors: numSectors})
	if f.refuseErase {
		return false, nil
	}
	for s := startSector; s < startSector+numSectors; s++ {
		delete(f.disks[lun].data, s)
	}
	return true, nil
}

func (f *fakeFirehose) FixGPT(_ context.Context, lun int, partitions uint32) error {
	f.fixes[lun] = partitions
	return nil
}

func (f *fakeFirehose) GetStorageInfo(context.Context) ([]string, error) {
	return f.storageLines, nil
}

func (f *fakeFirehose) SetBootLUNID(_ context.Context, id int) error {
	f.bootLUN = id
	return nil
}

func (f *fakeFirehose) Reset(context.Context) (bool, error) {
	f.resets++
	return true, nil
}

// fakeTransport is a pipe that can refuse to open.
type fakeTransport struct {
	connected  bool
	connectErr error
	stayClosed bool
}

func (t *fakeTransport) Connected() bool { return t.connected }

func (t *fakeTransport) Connect(context.Context) error {
	if t.connectErr != nil {
		return t.connectErr
	}
	if !t.stayClosed {
		t.connected = true
	}
	return nil
}

func (t *fakeTransport) Write(context.Context, []byte) error { return nil }
func (t *fakeTransport) Read(context.Context) ([]byte, error) {
	return nil, errors.New("nothing to read")
}

// fakeLoader reports scripted modes.
type fakeLoader struct {
	connectMode interfaces.Mode
	uploadMode  interfaces.Mode
	connectErr  error
	uploads     int
}

func (l *fakeLoader) Connect(context.Context) (interfaces.Mode, error) {
	return l.connectMode, l.connectErr
}

func (l *fakeLoader) UploadLoader(context.Context) (interfaces.Mode, error) {
	l.uploads++
	return l.uploadMode, nil
}

// newTestDevice returns a Device already in programmable mode on fh.
func newTestDevice(t *testing.T, fh interfaces.Firehose, opts ...Option) (*Device, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts = append([]Option{WithLogger(logger)}, opts...)
	d := New(nil, nil, opts...)
	d.firehose = fh
	d.state = StateProgrammable
	d.mode = interfaces.ModeFirehose
	require.Equal(t, StateProgrammable, d.State())
	return d, hook
}
