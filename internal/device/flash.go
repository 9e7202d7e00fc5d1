package device

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/deploymenttheory/go-qdl/internal/interfaces"
	"github.com/deploymenttheory/go-qdl/internal/parsers/sparse"
)

// FlashBlob writes image to the named partition. Sparse images are expanded
// chunk by chunk, by default after erasing the partition; writing stops at
// the first refused chunk. Raw images are written with a single program
// command whose ACK is returned as is.
func (d *Device) FlashBlob(ctx context.Context, name string, image *io.SectionReader, opts ...FlashOption) (bool, error) {
	cfg := flashConfig{eraseBeforeSparse: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	fh, err := d.requireFirehose()
	if err != nil {
		return false, err
	}

	loc, found, err := d.DetectPartition(ctx, name)
	if err != nil {
		return false, err
	}
	if !found {
		return false, &NotFoundError{Name: name}
	}

	sectorSize := fh.SectorSize()
	capacity := loc.Entry.SectorCount() * uint64(sectorSize)
	progress := interfaces.ProgressFunc(cfg.onProgress)
	log := d.log.WithFields(logrus.Fields{
		"partition": name,
		"lun":       loc.LUN,
		"start":     loc.Entry.StartingLBA,
	})

	reader := sparse.From(image, image.Size(),
		sparse.WithMaxChunkSize(d.config.MaxSparseChunk),
		sparse.WithZeroFill(!cfg.eraseBeforeSparse),
	)
	if reader == nil {
		if uint64(image.Size()) > capacity {
			return false, &ImageTooLargeError{Partition: name, Size: image.Size(), Capacity: capacity}
		}
		log.WithField("bytes", image.Size()).Info("flashing raw image")
		return fh.Program(ctx, loc.LUN, loc.Entry.StartingLBA, image, progress)
	}

	if reader.ExpandedSize() > capacity {
		return false, &ImageTooLargeError{Partition: name, Size: int64(reader.ExpandedSize()), Capacity: capacity}
	}
	log.WithField("bytes", reader.ExpandedSize()).Info("flashing sparse image")

	if cfg.eraseBeforeSparse {
		ok, err := fh.Erase(ctx, loc.LUN, loc.Entry.StartingLBA, loc.Entry.SectorCount())
		if err != nil {
			return false, err
		}
		if !ok {
			log.Warn("erase before sparse flash refused")
			return false, nil
		}
	}

	for {
		ins, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}

		if ins.Offset%uint64(sectorSize) != 0 {
			return false, &AlignmentError{Offset: ins.Offset, SectorSize: sectorSize}
		}
		sector := loc.Entry.StartingLBA + ins.Offset/uint64(sectorSize)

		ok, err := fh.Program(ctx, loc.LUN, sector, ins.Data, progress)
		if err != nil {
			return false, err
		}
		if !ok {
			log.WithFields(logrus.Fields{"sector": sector, "bytes": ins.Data.Size()}).Warn("program refused")
			return false, nil
		}
	}
	return true, nil
}
