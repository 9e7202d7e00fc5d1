// Package disk provides a firehose target backed by raw image files, one per
// LUN, so partition tables can be inspected and modified without a device.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
)

const (
	// DefaultSectorSize matches UFS storage.
	DefaultSectorSize = 4096

	// programBlockSectors is the number of sectors written per progress report.
	programBlockSectors = 256
)

// Image is a firehose target whose LUNs are raw image files.
type Image struct {
	sectorSize int
	luns       map[int]*lunFile
	order      []int
	log        logrus.FieldLogger

	mu      sync.Mutex
	bootLUN int
	fixes   map[int]uint32

	statsMu sync.RWMutex
	stats   Statistics
}

type lunFile struct {
	file    *os.File
	sectors uint64
}

var _ interfaces.Firehose = (*Image)(nil)

// Statistics tracks image access.
type Statistics struct {
	SectorsRead    uint64
	SectorsWritten uint64
	SectorsErased  uint64
	Programs       uint64
	Erases         uint64
	Resets         uint64
}

// Config describes the image files to open.
type Config struct {
	// SectorSize is the bytes per sector of every LUN
	SectorSize int

	// LUNs maps each logical unit to its image file
	LUNs map[int]string

	// Logger receives access logs
	Logger logrus.FieldLogger
}

// Open opens the image file of every LUN for reading and writing. The file
// sizes must be whole multiples of the sector size.
func Open(cfg Config) (*Image, error) {
	if cfg.SectorSize == 0 {
		cfg.SectorSize = DefaultSectorSize
	}
	if cfg.SectorSize < 512 || cfg.SectorSize&(cfg.SectorSize-1) != 0 {
		return nil, errors.Errorf("invalid sector size %d", cfg.SectorSize)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	img := &Image{
		sectorSize: cfg.SectorSize,
		luns:       make(map[int]*lunFile),
		log:        cfg.Logger,
		fixes:      make(map[int]uint32),
	}

	for lun, path := range cfg.LUNs {
		file, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			img.Close()
			return nil, errors.Wrapf(err, "failed to open image of LUN %d", lun)
		}
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			img.Close()
			return nil, errors.Wrapf(err, "failed to stat image of LUN %d", lun)
		}
		if stat.Size()%int64(cfg.SectorSize) != 0 {
			file.Close()
			img.Close()
			return nil, errors.Errorf("image of LUN %d is %d bytes, not a multiple of %d", lun, stat.Size(), cfg.SectorSize)
		}

		img.luns[lun] = &lunFile{file: file, sectors: uint64(stat.Size()) / uint64(cfg.SectorSize)}
		img.order = append(img.order, lun)
		img.log.WithFields(logrus.Fields{
			"lun":     lun,
			"path":    path,
			"sectors": stat.Size() / int64(cfg.SectorSize),
		}).Debug("opened LUN image")
	}
	sort.Ints(img.order)
	return img, nil
}

// Create writes an empty image file of sectors sectors.
func Create(path string, sectors uint64, sectorSize int) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create image")
	}
	defer file.Close()

	if err := file.Truncate(int64(sectors) * int64(sectorSize)); err != nil {
		return errors.Wrap(err, "failed to size image")
	}
	return nil
}

// Close closes every image file.
func (img *Image) Close() error {
	var first error
	for lun, l := range img.luns {
		if err := l.file.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to close image of LUN %d", lun)
		}
	}
	return first
}

// LUNs returns the configured logical units in ascending order.
func (img *Image) LUNs() []int {
	return append([]int(nil), img.order...)
}

// SectorSize returns the bytes per sector.
func (img *Image) SectorSize() int {
	return img.sectorSize
}

// Sectors returns the size of a LUN in sectors.
func (img *Image) Sectors(lun int) (uint64, bool) {
	l, ok := img.luns[lun]
	if !ok {
		return 0, false
	}
	return l.sectors, true
}

func (img *Image) lun(lun int) (*lunFile, error) {
	l, ok := img.luns[lun]
	if !ok {
		return nil, errors.Errorf("no image for LUN %d", lun)
	}
	return l, nil
}

// ReadBuffer reads whole sectors from a LUN.
func (img *Image) ReadBuffer(ctx context.Context, lun int, startSector, numSectors uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := img.lun(lun)
	if err != nil {
		return nil, err
	}
	if startSector+numSectors > l.sectors {
		return nil, errors.Errorf("read of sectors %d-%d past end of LUN %d (%d sectors)",
			startSector, startSector+numSectors, lun, l.sectors)
	}

	buf := make([]byte, numSectors*uint64(img.sectorSize))
	if _, err := l.file.ReadAt(buf, int64(startSector)*int64(img.sectorSize)); err != nil {
		return nil, errors.Wrapf(err, "failed to read LUN %d at sector %d", lun, startSector)
	}

	img.statsMu.Lock()
	img.stats.SectorsRead += numSectors
	img.statsMu.Unlock()
	return buf, nil
}

// Program writes data starting at startSector, zero padding the last sector.
// Writes that would run past the end of the LUN are refused.
func (img *Image) Program(ctx context.Context, lun int, startSector uint64, data *io.SectionReader, onProgress interfaces.ProgressFunc) (bool, error) {
	l, err := img.lun(lun)
	if err != nil {
		return false, err
	}

	ss := uint64(img.sectorSize)
	sectors := (uint64(data.Size()) + ss - 1) / ss
	log := img.log.WithFields(logrus.Fields{"lun": lun, "sector": startSector, "sectors": sectors})
	if startSector+sectors > l.sectors {
		log.Warn("program past end of LUN refused")
		return false, nil
	}

	buf := make([]byte, programBlockSectors*ss)
	var off int64
	sector := startSector
	for off < data.Size() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, err := data.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return false, errors.Wrapf(err, "failed to read image data at %d", off)
		}
		if n == 0 {
			break
		}

		padded := (uint64(n) + ss - 1) / ss * ss
		for i := n; i < int(padded); i++ {
			buf[i] = 0
		}
		if _, err := l.file.WriteAt(buf[:padded], int64(sector*ss)); err != nil {
			return false, errors.Wrapf(err, "failed to write LUN %d at sector %d", lun, sector)
		}

		sector += padded / ss
		off += int64(n)
		if onProgress != nil {
			onProgress(n)
		}
	}

	img.statsMu.Lock()
	img.stats.Programs++
	img.stats.SectorsWritten += sectors
	img.statsMu.Unlock()
	log.Debug("programmed")
	return true, nil
}

// Erase zero fills a sector range. Ranges past the end of the LUN are refused.
func (img *Image) Erase(ctx context.Context, lun int, startSector, numSectors uint64) (bool, error) {
	l, err := img.lun(lun)
	if err != nil {
		return false, err
	}
	log := img.log.WithFields(logrus.Fields{"lun": lun, "sector": startSector, "sectors": numSectors})
	if startSector+numSectors > l.sectors {
		log.Warn("erase past end of LUN refused")
		return false, nil
	}

	ss := uint64(img.sectorSize)
	zero := make([]byte, programBlockSectors*ss)
	for done := uint64(0); done < numSectors; {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		count := numSectors - done
		if count > programBlockSectors {
			count = programBlockSectors
		}
		if _, err := l.file.WriteAt(zero[:count*ss], int64((startSector+done)*ss)); err != nil {
			return false, errors.Wrapf(err, "failed to erase LUN %d at sector %d", lun, startSector+done)
		}
		done += count
	}

	img.statsMu.Lock()
	img.stats.Erases++
	img.stats.SectorsErased += numSectors
	img.statsMu.Unlock()
	log.Debug("erased")
	return true, nil
}

// FixGPT records the partition count the device was told about.
func (img *Image) FixGPT(_ context.Context, lun int, partitions uint32) error {
	if _, err := img.lun(lun); err != nil {
		return err
	}
	img.mu.Lock()
	img.fixes[lun] = partitions
	img.mu.Unlock()
	img.log.WithFields(logrus.Fields{"lun": lun, "partitions": partitions}).Debug("GPT fixed")
	return nil
}

// Fixes returns the partition count passed to FixGPT per LUN.
func (img *Image) Fixes() map[int]uint32 {
	img.mu.Lock()
	defer img.mu.Unlock()
	out := make(map[int]uint32, len(img.fixes))
	for k, v := range img.fixes {
		out[k] = v
	}
	return out
}

// storageInfo mirrors the object a UFS device logs for getstorageinfo.
type storageInfo struct {
	TotalBlocks    uint64 `json:"total_blocks"`
	BlockSize      int    `json:"block_size"`
	PageSize       int    `json:"page_size"`
	NumPhysical    int    `json:"num_physical"`
	ManufacturerID int    `json:"manufacturer_id"`
	SerialNum      int    `json:"serial_num"`
	FWVersion      string `json:"fw_version"`
	MemType        string `json:"mem_type"`
	ProdName       string `json:"prod_name"`
}

// GetStorageInfo returns log lines in the form a device prints them, with the
// storage_info object describing the first LUN.
func (img *Image) GetStorageInfo(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := storageInfo{
		BlockSize:   img.sectorSize,
		PageSize:    img.sectorSize,
		NumPhysical: len(img.order),
		FWVersion:   "0000",
		MemType:     "image",
		ProdName:    "go-qdl image",
	}
	if len(img.order) > 0 {
		info.TotalBlocks = img.luns[img.order[0]].sectors
	}

	payload, err := json.Marshal(map[string]storageInfo{"storage_info": info})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode storage info")
	}
	return []string{
		"INFO: Calling handler for getstorageinfo",
		fmt.Sprintf("INFO: %s", payload),
	}, nil
}

// SetBootLUNID records the boot LUN.
func (img *Image) SetBootLUNID(_ context.Context, id int) error {
	img.mu.Lock()
	img.bootLUN = id
	img.mu.Unlock()
	img.log.WithField("boot_lun", id).Debug("boot LUN set")
	return nil
}

// BootLUN returns the last boot LUN set.
func (img *Image) BootLUN() int {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.bootLUN
}

// Reset syncs every image file to disk.
func (img *Image) Reset(context.Context) (bool, error) {
	for lun, l := range img.luns {
		if err := l.file.Sync(); err != nil {
			return false, errors.Wrapf(err, "failed to sync image of LUN %d", lun)
		}
	}
	img.statsMu.Lock()
	img.stats.Resets++
	img.statsMu.Unlock()
	img.log.Info("reset")
	return true, nil
}

// GetStats returns a snapshot of the access statistics.
func (img *Image) GetStats() Statistics {
	img.statsMu.RLock()
	defer img.statsMu.RUnlock()
	return img.stats
}
