package gpt

import "fmt"

// Mirror derives the backup table of a primary table: the entries are
// identical, CurrentLBA and AlternateLBA are swapped and the entry array is
// placed immediately before the backup header.
//
// The backup header must lie after the primary header, and the backup entry
// array must fit between LastUsableLBA and the backup header.
func (g *GPT) Mirror() (*GPT, error) {
	backupLBA := g.Header.AlternateLBA
	if backupLBA <= g.Header.CurrentLBA {
		return nil, &FormatError{LBA: g.Header.CurrentLBA, Err: fmt.Errorf("%w: alternate LBA %d is not after current LBA %d", ErrInvalidBackupLocation, backupLBA, g.Header.CurrentLBA)}
	}
	entrySectors := g.EntriesSectors()
	if backupLBA <= entrySectors || backupLBA-entrySectors <= g.Header.LastUsableLBA {
		return nil, &FormatError{LBA: g.Header.CurrentLBA, Err: fmt.Errorf("%w: %d entry sectors do not fit between last usable LBA %d and alternate LBA %d", ErrInvalidBackupLocation, entrySectors, g.Header.LastUsableLBA, backupLBA)}
	}

	out := g.clone()
	h := &out.Header
	h.CurrentLBA = backupLBA
	h.AlternateLBA = g.Header.CurrentLBA
	h.PartEntriesStartLBA = backupLBA - entrySectors

	out.HeaderCRCMismatch = false
	out.EntriesCRCMismatch = false
	return out, nil
}

// IsMirrorOf reports whether g is a consistent backup of primary.
func (g *GPT) IsMirrorOf(primary *GPT) bool {
	if g.Header.CurrentLBA != primary.Header.AlternateLBA ||
		g.Header.AlternateLBA != primary.Header.CurrentLBA ||
		len(g.Entries) != len(primary.Entries) {
		return false
	}
	for i := range g.Entries {
		a, b := g.Entries[i], primary.Entries[i]
		if a.TypeGUID != b.TypeGUID || a.UniqueGUID != b.UniqueGUID ||
			a.StartingLBA != b.StartingLBA || a.EndingLBA != b.EndingLBA ||
			a.Attributes != b.Attributes || a.Name != b.Name {
			return false
		}
	}
	return true
}
