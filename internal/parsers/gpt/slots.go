package gpt

import (
	"fmt"

	"github.com/deploymenttheory/go-qdl/internal/types"
)

// SlotConvention describes where A/B state lives in partition attributes.
// The layout is vendor defined, so every position is configurable.
type SlotConvention struct {
	// Bit position of the A/B flag byte within Attributes.
	FlagBitOffset uint
	// Bit marking the active slot inside the flag byte.
	ActiveFlag uint8
	// Base name of the partition whose whole flag byte is rewritten on a switch.
	BootPartition string
	// Flag byte written to BootPartition of the active slot.
	BootActiveFlags uint8
	// Flag byte written to BootPartition of the inactive slot.
	BootInactiveFlags uint8
}

// DefaultSlotConvention is the Qualcomm layout: flag byte at bit 54, active bit 2,
// boot partition flags 0x6F/0x3A.
func DefaultSlotConvention() SlotConvention {
	return SlotConvention{
		FlagBitOffset:     types.SlotFlagBitOffset,
		ActiveFlag:        types.SlotActiveFlag,
		BootPartition:     types.SlotBootPartition,
		BootActiveFlags:   types.SlotBootActiveFlags,
		BootInactiveFlags: types.SlotBootInactiveFlags,
	}
}

// Flags extracts the A/B flag byte from an attribute word.
func (c SlotConvention) Flags(attributes uint64) uint8 {
	return uint8(attributes >> c.FlagBitOffset)
}

// WithFlags replaces the A/B flag byte of an attribute word.
func (c SlotConvention) WithFlags(attributes uint64, flags uint8) uint64 {
	mask := uint64(0xFF) << c.FlagBitOffset
	return attributes&^mask | uint64(flags)<<c.FlagBitOffset
}

// IsActive reports whether the active bit is set in an attribute word.
func (c SlotConvention) IsActive(attributes uint64) bool {
	return c.Flags(attributes)&c.ActiveFlag != 0
}

// ActiveSlot returns the slot letter of the first A/B entry, in on-disk
// order, whose active bit is set.
func (g *GPT) ActiveSlot(conv SlotConvention) (string, bool) {
	for _, e := range g.Entries {
		if e.IsUnused() {
			continue
		}
		slot := e.SlotSuffix()
		if slot == "" {
			continue
		}
		if conv.IsActive(e.Attributes) {
			return slot, true
		}
	}
	return "", false
}

// WithActiveSlot returns a copy of the table with slot marked active on every
// A/B entry and the other slot marked inactive. Entries of BootPartition get
// their whole flag byte replaced; other A/B entries only toggle the active bit.
// Checksums are not recomputed until the table is serialized.
func (g *GPT) WithActiveSlot(slot string, conv SlotConvention) (*GPT, error) {
	if slot != "a" && slot != "b" {
		return nil, fmt.Errorf("invalid slot %q", slot)
	}

	out := g.clone()
	for i, e := range out.Entries {
		if e.IsUnused() {
			continue
		}
		entrySlot := e.SlotSuffix()
		if entrySlot == "" {
			continue
		}
		active := entrySlot == slot

		if conv.BootPartition != "" && e.BaseName() == conv.BootPartition {
			flags := conv.BootInactiveFlags
			if active {
				flags = conv.BootActiveFlags
			}
			out.Entries[i].Attributes = conv.WithFlags(e.Attributes, flags)
			continue
		}

		flags := conv.Flags(e.Attributes)
		if active {
			flags |= conv.ActiveFlag
		} else {
			flags &^= conv.ActiveFlag
		}
		out.Entries[i].Attributes = conv.WithFlags(e.Attributes, flags)
	}
	return out, nil
}
