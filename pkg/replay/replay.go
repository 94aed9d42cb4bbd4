// Package replay groups a stored conversation log into display units.
package replay

import (
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
)

// UnitCarousel is the type of a unit that coalesces consecutive SendItem entries.
const UnitCarousel domain.EntryType = "Carousel"

// Unit is one displayable element of a replayed conversation.
type Unit struct {
	Type    domain.EntryType      `json:"type"`
	Sender  domain.Sender         `json:"sender"`
	Created time.Time             `json:"created"`
	Entries []domain.HistoryEntry `json:"entries"`
}

// Group converts history entries into display units, preserving order.
//
// Webservice wait markers are dropped, every maximal run of consecutive SendItem
// entries becomes one Carousel unit stamped with the earliest created time of the
// run, and any other entry becomes a unit of its own. The input is never modified.
func Group(entries []domain.HistoryEntry) []Unit {
	units := make([]Unit, 0, len(entries))
	var run []domain.HistoryEntry

	flush := func() {
		if len(run) == 0 {
			return
		}
		created := run[0].Created
		for _, e := range run[1:] {
			if e.Created.Before(created) {
				created = e.Created
			}
		}
		units = append(units, Unit{
			Type:    UnitCarousel,
			Sender:  run[0].EffectiveSender(),
			Created: created,
			Entries: run,
		})
		run = nil
	}

	for _, e := range entries {
		switch e.Type {
		case domain.EntryWaitingWebservice:
			continue
		case domain.EntrySendItem:
			run = append(run, e)
			continue
		}

		flush()
		units = append(units, Unit{
			Type:    e.Type,
			Sender:  e.EffectiveSender(),
			Created: e.Created,
			Entries: []domain.HistoryEntry{e},
		})
	}
	flush()

	return units
}
