package device

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Erase zeroes the named partition.
func (d *Device) Erase(ctx context.Context, name string) (bool, error) {
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

	d.log.WithFields(logrus.Fields{
		"partition": name,
		"lun":       loc.LUN,
		"start":     loc.Entry.StartingLBA,
		"sectors":   loc.Entry.SectorCount(),
	}).Info("erasing partition")
	return fh.Erase(ctx, loc.LUN, loc.Entry.StartingLBA, loc.Entry.SectorCount())
}

// EraseLUN erases the usable area of a LUN on one side of an anchor
// partition. The anchor is the first of preserve present in the LUN's table;
// the larger of the ranges before and after it is erased and the anchor
// itself is never touched. Without an anchor nothing is erased and false is
// returned.
func (d *Device) EraseLUN(ctx context.Context, lun int, preserve []string) (bool, error) {
	fh, err := d.requireFirehose()
	if err != nil {
		return false, err
	}

	table, err := d.GetGpt(ctx, lun, 0)
	if err != nil {
		return false, err
	}

	log := d.log.WithField("lun", lun)
	var anchorName string
	var found bool
	for _, name := range preserve {
		if _, ok := table.LocatePartition(name); ok {
			anchorName, found = name, true
			break
		}
	}
	if !found {
		log.WithField("preserve", preserve).Warn("no anchor partition, not erasing")
		return false, nil
	}
	anchor, _ := table.LocatePartition(anchorName)

	first, last := table.Header.FirstUsableLBA, table.Header.LastUsableLBA
	start, count := eraseRange(first, last, anchor.StartingLBA, anchor.EndingLBA)
	if count == 0 {
		log.WithField("anchor", anchorName).Warn("anchor covers the usable area, not erasing")
		return false, nil
	}

	log.WithFields(logrus.Fields{
		"anchor":  anchorName,
		"start":   start,
		"sectors": count,
	}).Info("erasing LUN")
	return fh.Erase(ctx, lun, start, count)
}

// eraseRange picks the larger usable range on either side of
// [anchorStart, anchorEnd] within [first, last].
func eraseRange(first, last, anchorStart, anchorEnd uint64) (start, count uint64) {
	var beforeCount, afterCount uint64
	if anchorStart > first {
		end := anchorStart - 1
		if end > last {
			end = last
		}
		if end >= first {
			beforeCount = end - first + 1
		}
	}
	afterStart := anchorEnd + 1
	if afterStart < first {
		afterStart = first
	}
	if anchorEnd < last && afterStart <= last {
		afterCount = last - afterStart + 1
	}

	if beforeCount == 0 && afterCount == 0 {
		return 0, 0
	}
	if beforeCount >= afterCount {
		return first, beforeCount
	}
	return afterStart, afterCount
}
