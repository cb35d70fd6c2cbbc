// Package memory implements the append-only per-kind journal, similarity
// retrieval, and recall policy described by the cognitive pipeline's memory
// service, exposed over a local-socket JSON-RPC transport.
package memory

import (
	"encoding/json"
	"time"
)

// StoredSensation is a journal row for a raw sensation: write-once, never
// rewritten.
type StoredSensation struct {
	ID   string          `json:"id"`
	Kind string          `json:"kind"`
	When time.Time       `json:"when"`
	Data json.RawMessage `json:"data"`
}

// StoredImpression is a journal row for a distilled impression: write-once,
// never rewritten. SensationIDs and ImpressionIDs reference the items of the
// input batch the impression was distilled from; the wit's previous output
// is never referenced. What is set only on recall records, where it lists
// the id of the memorized record that triggered the recall.
type StoredImpression struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	When          time.Time `json:"when"`
	How           string    `json:"how"`
	What          []string  `json:"what,omitempty"`
	SensationIDs  []string  `json:"sensation_ids,omitempty"`
	ImpressionIDs []string  `json:"impression_ids,omitempty"`
}
