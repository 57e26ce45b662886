package audit

import (
	"bytes"
	"encoding/binary"
	"hash"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ComputeHash derives the tamper-evidence hash for a record. Each
// entry's hash covers the previous entry's hash for the same entity,
// so rewriting history invalidates every later record in the chain.
func ComputeHash(prev []byte, id uuid.UUID, ts time.Time, e Entry) []byte {
	h, _ := blake2b.New256(nil)
	h.Write(prev)
	h.Write(id[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixMicro()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(e.ActorID))
	h.Write(buf[:])

	writeField(h, string(e.Action))
	writeField(h, e.EntityType)
	writeField(h, e.EntityID)
	writeSnapshot(h, e.Before)
	writeSnapshot(h, e.After)
	writeField(h, string(e.RiskLevel))
	writeField(h, e.BusinessContext)

	return h.Sum(nil)
}

// VerifyChain recomputes the hash chain over records ordered by
// timestamp ascending for a single entity. It returns the index of the
// first broken record, or -1 when the chain is intact.
func VerifyChain(records []Record) (int, error) {
	var prev []byte
	for i, rec := range records {
		if !bytes.Equal(rec.PrevHash, prev) {
			return i, ErrChainBroken
		}
		want := ComputeHash(prev, rec.ID, rec.Timestamp, rec.Entry)
		if !bytes.Equal(rec.EntryHash, want) {
			return i, ErrChainBroken
		}
		prev = rec.EntryHash
	}
	return -1, nil
}

// writeField length-prefixes values so adjacent fields cannot be
// shifted into each other without changing the hash.
func writeField(h hash.Hash, s string) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
	h.Write(buf[:])
	h.Write([]byte(s))
}

func writeSnapshot(h hash.Hash, snap Snapshot) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(keys)))
	h.Write(buf[:])
	for _, k := range keys {
		writeField(h, k)
		writeField(h, snap[k])
	}
}
