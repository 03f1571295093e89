package domain

import (
	"testing"
	"time"
)

func buildChain(t *testing.T, n int) []AuditEntry {
	t.Helper()
	entries := make([]AuditEntry, 0, n)
	var prev *AuditEntry
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		conf := 0.9
		entry := NextEntry(prev, AuditEvent{
			DocumentID: "doc-1",
			Stage:      StageExtraction,
			EventType:  EventSucceeded,
			Actor:      ActorSystem,
			Payload:    AuditPayload{Confidence: &conf},
		}, ts.Add(time.Duration(i)*time.Second))
		entries = append(entries, entry)
		prev = &entries[len(entries)-1]
	}
	return entries
}

func TestVerifyChainPasses(t *testing.T) {
	entries := buildChain(t, 10)
	result := VerifyChain(entries, GenesisHash)
	if !result.OK {
		t.Fatalf("expected intact chain, first bad seq %d", result.FirstBadSeq)
	}
	if result.Checked != 10 {
		t.Fatalf("expected 10 checked entries, got %d", result.Checked)
	}
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	entries := buildChain(t, 10)
	entries[4].PayloadDigest = AuditPayload{Note: "forged"}.Digest()

	result := VerifyChain(entries, GenesisHash)
	if result.OK {
		t.Fatalf("expected verification failure after tampering")
	}
	if result.FirstBadSeq != entries[4].Seq {
		t.Fatalf("expected first bad seq %d, got %d", entries[4].Seq, result.FirstBadSeq)
	}
}

func TestVerifyChainDetectsRemovedEntry(t *testing.T) {
	entries := buildChain(t, 5)
	truncated := append([]AuditEntry{}, entries[:2]...)
	truncated = append(truncated, entries[3:]...)

	result := VerifyChain(truncated, GenesisHash)
	if result.OK {
		t.Fatalf("expected verification failure after removal")
	}
	if result.FirstBadSeq != entries[3].Seq {
		t.Fatalf("expected first bad seq %d, got %d", entries[3].Seq, result.FirstBadSeq)
	}
}

func TestEntryHashIndependentOfZone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	ts := time.Date(2026, 3, 1, 15, 0, 0, 0, loc)

	a := NextEntry(nil, AuditEvent{DocumentID: "doc-1", Stage: StageExtraction, EventType: EventStarted, Actor: ActorSystem}, ts)
	b := NextEntry(nil, AuditEvent{DocumentID: "doc-1", Stage: StageExtraction, EventType: EventStarted, Actor: ActorSystem}, ts.UTC())
	if a.EntryHash != b.EntryHash {
		t.Fatalf("hash depends on time zone: %s != %s", a.EntryHash, b.EntryHash)
	}
}

func TestEntryHashSurvivesStoredTimestampPrecision(t *testing.T) {
	// timestamptz keeps microseconds; a hash over nanoseconds would never
	// verify against the stored row.
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	entry := NextEntry(nil, AuditEvent{DocumentID: "doc-1", Stage: StageExtraction, EventType: EventStarted, Actor: ActorSystem}, ts)
	if entry.Timestamp.Nanosecond()%1000 != 0 {
		t.Fatalf("entry timestamp carries sub-microsecond precision: %v", entry.Timestamp)
	}

	stored := entry
	stored.Timestamp = stored.Timestamp.Truncate(time.Microsecond)
	if stored.ComputeHash() != entry.EntryHash {
		t.Fatalf("hash does not survive storage round-trip: %s != %s", stored.ComputeHash(), entry.EntryHash)
	}
}

func TestPayloadDigestDeterministic(t *testing.T) {
	conf := 0.75
	p := AuditPayload{Confidence: &conf, Attempt: 2, Error: "timeout"}
	if p.Digest() != p.Digest() {
		t.Fatalf("payload digest is not deterministic")
	}
	if p.Digest() == (AuditPayload{Attempt: 2, Error: "timeout"}).Digest() {
		t.Fatalf("digest ignores confidence field")
	}
}

func TestAuditFilterMatches(t *testing.T) {
	entry := AuditEntry{DocumentID: "doc-1", Actor: "reviewer", EventType: EventOverridden}
	cases := []struct {
		filter AuditFilter
		want   bool
	}{
		{AuditFilter{}, true},
		{AuditFilter{DocumentID: "doc-1"}, true},
		{AuditFilter{DocumentID: "doc-2"}, false},
		{AuditFilter{Actor: "reviewer", EventType: EventOverridden}, true},
		{AuditFilter{EventType: EventFlagged}, false},
	}
	for i, tc := range cases {
		if got := tc.filter.Matches(entry); got != tc.want {
			t.Fatalf("case %d: Matches() = %v, want %v", i, got, tc.want)
		}
	}
}
