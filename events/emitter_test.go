package events

import (
	"testing"

	"github.com/echonode/echoconsent/protocol"
)

func TestEmitterDeliversOnlyToMatchingKind(t *testing.T) {
	e := NewEmitter()
	var gotVote, gotCommit int
	e.Subscribe(protocol.EventVoteCast, func(Record) { gotVote++ })
	e.Subscribe(protocol.EventBlockCommitted, func(Record) { gotCommit++ })

	e.Log(1, 42, protocol.Event{Kind: protocol.EventVoteCast, BlockID: 7})

	if gotVote != 1 {
		t.Fatalf("expected 1 vote-cast delivery, got %d", gotVote)
	}
	if gotCommit != 0 {
		t.Fatalf("expected 0 block-committed deliveries, got %d", gotCommit)
	}
}

func TestEmitterSurvivesPanickingHandler(t *testing.T) {
	e := NewEmitter()
	var ranAfter bool
	e.Subscribe(protocol.EventReorg, func(Record) { panic("boom") })
	e.Subscribe(protocol.EventReorg, func(Record) { ranAfter = true })

	e.Log(1, 1, protocol.Event{Kind: protocol.EventReorg})

	if !ranAfter {
		t.Fatal("expected second handler to run despite first panicking")
	}
}

func TestCollectorRecordsEverything(t *testing.T) {
	c := NewCollector()
	c.Log(1, 10, protocol.Event{Kind: protocol.EventVoteCast})
	c.Log(2, 20, protocol.Event{Kind: protocol.EventBlockCommitted})

	got := c.All()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].At != 1 || got[0].Peer != 10 {
		t.Fatalf("unexpected first record: %+v", got[0])
	}
}
