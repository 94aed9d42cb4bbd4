package replay_test

import (
	"testing"
	"time"

	"github.com/aretw0/flowbot/pkg/domain"
	"github.com/aretw0/flowbot/pkg/replay"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func card(title string, sec int) domain.HistoryEntry {
	return domain.NewEntry(domain.SenderBot, "c-"+title, at(sec), domain.SendItemPayload{Title: title})
}

func TestGroup_CarouselAndText(t *testing.T) {
	entries := []domain.HistoryEntry{
		card("a", 3),
		card("b", 1),
		card("c", 2),
		domain.NewEntry(domain.SenderBot, "m", at(4), domain.TextPayload{Text: "done"}),
	}

	units := replay.Group(entries)
	require.Len(t, units, 2)

	assert.Equal(t, replay.UnitCarousel, units[0].Type)
	assert.Len(t, units[0].Entries, 3)
	assert.Equal(t, at(1), units[0].Created, "carousel keeps the earliest created time of the run")

	assert.Equal(t, domain.EntryText, units[1].Type)
	assert.Equal(t, domain.SenderBot, units[1].Sender)
}

func TestGroup_DropsWebserviceMarkerAndSplitsRuns(t *testing.T) {
	entries := []domain.HistoryEntry{
		{Type: domain.EntryUserInput, Created: at(0), Payload: domain.UserInputPayload{Text: "hi"}},
		card("a", 1),
		domain.NewEntry(domain.SenderBot, "w", at(2), domain.WaitingWebservicePayload{CorrelationKey: "k"}),
		card("b", 3),
		domain.NewEntry(domain.SenderBot, "t", at(4), domain.TextPayload{Text: "x"}),
		card("c", 5),
	}

	units := replay.Group(entries)
	types := make([]domain.EntryType, 0, len(units))
	for _, u := range units {
		types = append(types, u.Type)
	}

	// The marker is dropped, so the cards around it form one run.
	assert.Equal(t, []domain.EntryType{domain.EntryUserInput, replay.UnitCarousel, domain.EntryText, replay.UnitCarousel}, types)
	assert.Equal(t, domain.SenderUser, units[0].Sender, "sender is inferred for user input")
	assert.Len(t, units[1].Entries, 2)
}

func TestGroup_IdempotentAndPure(t *testing.T) {
	entries := []domain.HistoryEntry{
		card("a", 0),
		card("b", 1),
		domain.NewEntry(domain.SenderBot, "t", at(2), domain.TextPayload{Text: "x"}),
	}
	snapshot := append([]domain.HistoryEntry(nil), entries...)

	first := replay.Group(entries)
	second := replay.Group(entries)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("grouping is not deterministic:\n%s", diff)
	}
	if diff := cmp.Diff(snapshot, entries); diff != "" {
		t.Fatalf("input was mutated:\n%s", diff)
	}
}

func TestGroup_Empty(t *testing.T) {
	assert.Empty(t, replay.Group(nil))
}
