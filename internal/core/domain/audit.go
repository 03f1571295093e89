package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStarted      EventType = "started"
	EventSucceeded    EventType = "succeeded"
	EventFlagged      EventType = "flagged"
	EventRetried      EventType = "retried"
	EventDeadLettered EventType = "dead_lettered"
	EventOverridden   EventType = "overridden"
	EventSkipped      EventType = "skipped"
	EventAborted      EventType = "aborted"
	EventRedriven     EventType = "redriven"
	EventDiscarded    EventType = "discarded"
)

// ActorSystem marks entries emitted by the pipeline itself rather than a user.
const ActorSystem = "system"

// GenesisHash seeds the chain: the first entry's prev_hash.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AuditPayload carries event-specific detail. All fields are scalars on a
// struct (no maps) so json.Marshal field order is deterministic and the
// digest reproducible.
type AuditPayload struct {
	Confidence *float64 `json:"confidence,omitempty"`
	Attempt    int      `json:"attempt,omitempty"`
	Error      string   `json:"error,omitempty"`
	Note       string   `json:"note,omitempty"`
}

func (p AuditPayload) Digest() string {
	raw, err := json.Marshal(p)
	if err != nil {
		// Struct of scalars cannot fail to marshal.
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// AuditEvent is the unsequenced input to AuditLedger.Append. The ledger
// assigns the sequence number, timestamp, and hashes.
type AuditEvent struct {
	DocumentID string
	Stage      Stage
	EventType  EventType
	Actor      string
	Payload    AuditPayload
}

// AuditEntry is one immutable line of the hash-chained ledger.
type AuditEntry struct {
	Seq           uint64    `json:"seq"`
	DocumentID    string    `json:"document_id"`
	Stage         Stage     `json:"stage"`
	EventType     EventType `json:"event_type"`
	Timestamp     time.Time `json:"ts"`
	Actor         string    `json:"actor"`
	PayloadDigest string    `json:"payload_digest"`
	PrevHash      string    `json:"prev_hash"`
	EntryHash     string    `json:"entry_hash"`
}

// canonicalEntry fixes the byte representation hashed into EntryHash. The
// timestamp is normalized to UTC RFC3339Nano so the hash does not depend on
// the zone or monotonic clock reading the entry was built with.
type canonicalEntry struct {
	Seq           uint64    `json:"seq"`
	DocumentID    string    `json:"document_id"`
	Stage         Stage     `json:"stage"`
	EventType     EventType `json:"event_type"`
	Timestamp     string    `json:"ts"`
	Actor         string    `json:"actor"`
	PayloadDigest string    `json:"payload_digest"`
	PrevHash      string    `json:"prev_hash"`
}

func (e AuditEntry) canonicalBytes() []byte {
	raw, err := json.Marshal(canonicalEntry{
		Seq:           e.Seq,
		DocumentID:    e.DocumentID,
		Stage:         e.Stage,
		EventType:     e.EventType,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:         e.Actor,
		PayloadDigest: e.PayloadDigest,
		PrevHash:      e.PrevHash,
	})
	if err != nil {
		panic(err)
	}
	return raw
}

// ComputeHash derives the entry hash from the canonical bytes. EntryHash
// itself is excluded from the input.
func (e AuditEntry) ComputeHash() string {
	sum := sha256.Sum256(e.canonicalBytes())
	return hex.EncodeToString(sum[:])
}

// NextEntry links an event onto the chain after prev. A nil prev means the
// chain is empty and the entry becomes seq 1 seeded with GenesisHash.
// The timestamp is truncated to microseconds before hashing: timestamptz
// keeps microsecond precision, so a nanosecond timestamp would verify in
// memory but fail once recomputed from the stored row.
func NextEntry(prev *AuditEntry, ev AuditEvent, ts time.Time) AuditEntry {
	entry := AuditEntry{
		Seq:           1,
		DocumentID:    ev.DocumentID,
		Stage:         ev.Stage,
		EventType:     ev.EventType,
		Timestamp:     ts.UTC().Truncate(time.Microsecond),
		Actor:         ev.Actor,
		PayloadDigest: ev.Payload.Digest(),
		PrevHash:      GenesisHash,
	}
	if prev != nil {
		entry.Seq = prev.Seq + 1
		entry.PrevHash = prev.EntryHash
	}
	entry.EntryHash = entry.ComputeHash()
	return entry
}

// VerifyResult reports a chain verification outcome. FirstBadSeq is only
// meaningful when OK is false.
type VerifyResult struct {
	OK          bool   `json:"ok"`
	FirstBadSeq uint64 `json:"first_bad_seq,omitempty"`
	Checked     int    `json:"checked"`
}

// VerifyChain recomputes the chain over consecutive entries. prevHash is the
// entry hash preceding the slice (GenesisHash when the slice starts at seq 1).
func VerifyChain(entries []AuditEntry, prevHash string) VerifyResult {
	for i, e := range entries {
		if e.PrevHash != prevHash || e.ComputeHash() != e.EntryHash {
			return VerifyResult{OK: false, FirstBadSeq: e.Seq, Checked: i}
		}
		if i > 0 && e.Seq != entries[i-1].Seq+1 {
			return VerifyResult{OK: false, FirstBadSeq: e.Seq, Checked: i}
		}
		prevHash = e.EntryHash
	}
	return VerifyResult{OK: true, Checked: len(entries)}
}

// AuditFilter narrows an export. Zero values match everything.
type AuditFilter struct {
	DocumentID string
	Actor      string
	EventType  EventType
}

func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.DocumentID != "" && e.DocumentID != f.DocumentID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	return true
}
