package experience

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Store is one snapshot of the experience pool: an insertion-ordered
// mapping of experience id to a short natural-language lesson. Ids are
// only stable within one update cycle; every updater run ends with a
// dense renumbering.
type Store struct {
	ids      []string
	contents map[string]string
}

// NewStore creates an empty experience store
func NewStore() *Store {
	return &Store{contents: make(map[string]string)}
}

// Set inserts or overwrites an experience. New ids keep insertion order.
func (s *Store) Set(id, content string) {
	if _, exists := s.contents[id]; !exists {
		s.ids = append(s.ids, id)
	}
	s.contents[id] = content
}

// Get returns the content for an id
func (s *Store) Get(id string) (string, bool) {
	content, ok := s.contents[id]
	return content, ok
}

// Has reports whether an id exists
func (s *Store) Has(id string) bool {
	_, ok := s.contents[id]
	return ok
}

// Delete removes an experience; removing an absent id is a no-op
func (s *Store) Delete(id string) bool {
	if _, ok := s.contents[id]; !ok {
		return false
	}
	delete(s.contents, id)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of experiences
func (s *Store) Len() int {
	return len(s.ids)
}

// IDs returns the ids in insertion order
func (s *Store) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Clone returns an independent copy
func (s *Store) Clone() *Store {
	clone := NewStore()
	for _, id := range s.ids {
		clone.Set(id, s.contents[id])
	}
	return clone
}

// Format renders the pool as "[id]. content" lines for prompt injection;
// an empty pool renders as "None".
func (s *Store) Format() string {
	if len(s.ids) == 0 {
		return "None"
	}
	var b strings.Builder
	for i, id := range s.ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]. %s", id, s.contents[id])
	}
	return b.String()
}

// Renumber returns a copy whose surviving experiences are re-keyed
// densely as <prefix>0..<prefix>(k-1) in insertion order. Prior ids are
// deliberately discarded; no consumer relies on cross-cycle stability.
func (s *Store) Renumber(prefix string) *Store {
	renumbered := NewStore()
	for i, id := range s.ids {
		renumbered.Set(fmt.Sprintf("%s%d", prefix, i), s.contents[id])
	}
	return renumbered
}

// MarshalJSON writes the pool as a flat id→content object preserving
// insertion order.
func (s *Store) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(s.contents[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat id→content object, keeping document order
func (s *Store) UnmarshalJSON(data []byte) error {
	s.ids = nil
	s.contents = make(map[string]string)

	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return fmt.Errorf("decode experience store: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode experience store: expected object, got %v", token)
	}

	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return fmt.Errorf("decode experience id: %w", err)
		}
		id, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("decode experience id: non-string key %v", keyToken)
		}
		var content string
		if err := decoder.Decode(&content); err != nil {
			return fmt.Errorf("decode experience %q: %w", id, err)
		}
		s.Set(id, content)
	}
	return nil
}
