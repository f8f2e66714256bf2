package instances

import (
	"encoding/json"
	"iter"
	"time"
)

// HistoryEntry records one committed state change.
type HistoryEntry struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// History is an append-only, chronologically ordered log of entries.
// Past entries cannot be modified through its API.
type History struct {
	entries []HistoryEntry
}

// NewHistory rebuilds a history from persisted entries, clamping timestamps
// so the sequence is non-decreasing.
func NewHistory(entries []HistoryEntry) History {
	var h History
	for _, e := range entries {
		h.Append(e)
	}
	return h
}

// Append adds e, raising its timestamp to the previous entry's when clocks
// disagree, and returns the stored entry.
func (h *History) Append(e HistoryEntry) HistoryEntry {
	if n := len(h.entries); n > 0 && e.Timestamp.Before(h.entries[n-1].Timestamp) {
		e.Timestamp = h.entries[n-1].Timestamp
	}
	h.entries = append(h.entries, e)
	return e
}

// Len returns the number of entries.
func (h History) Len() int { return len(h.entries) }

// Last returns the most recent entry.
func (h History) Last() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Entries returns a copy of the log.
func (h History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Since returns a copy of the entries from index i onward.
func (h History) Since(i int) []HistoryEntry {
	if i >= len(h.entries) {
		return nil
	}
	out := make([]HistoryEntry, len(h.entries)-i)
	copy(out, h.entries[i:])
	return out
}

// All iterates entries in commit order with their sequence index.
func (h History) All() iter.Seq2[int, HistoryEntry] {
	return func(yield func(int, HistoryEntry) bool) {
		for i, e := range h.entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

func (h History) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *History) UnmarshalJSON(b []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	*h = NewHistory(entries)
	return nil
}
