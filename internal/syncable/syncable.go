// ABOUTME: Canonical syncable record, identity refs, and named associations.
// ABOUTME: Records are the serializable unit of the shared object graph.

package syncable

import (
	"encoding/json"
	"fmt"

	"github.com/2389/weft/internal/diff"
)

// ID uniquely identifies a record within its type. The (type, id) pair is
// globally unique and immutable for the record's lifetime.
type ID string

// Ref is a non-owning pointer to a syncable: it never carries data and is
// always resolved through the graph manager. The Creation tag marks a ref to
// an identity that does not exist yet and will be created by the change
// carrying it.
type Ref struct {
	Type     string `json:"type"`
	ID       ID     `json:"id"`
	Creation bool   `json:"creation,omitempty"`
}

// Identity returns the ref with the creation tag stripped. Two refs denote
// the same record iff their identities are equal.
func (r Ref) Identity() Ref {
	r.Creation = false
	return r
}

// IsZero reports whether the ref is empty.
func (r Ref) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

func (r Ref) String() string {
	if r.Creation {
		return fmt.Sprintf("%s/%s (creation)", r.Type, r.ID)
	}
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Association is a directed, named edge stored on the target record and
// pointing at its source. Secures marks the edge as conferring permission
// inheritance from source to target; Requisite marks the target as logically
// dependent on the source and defaults to the value of Secures when an
// association is built through the change pipeline.
type Association struct {
	Ref       Ref    `json:"ref"`
	Name      string `json:"name,omitempty"`
	Requisite bool   `json:"requisite,omitempty"`
	Secures   bool   `json:"secures,omitempty"`
}

// Syncable is the canonical record: a (type, id) header, type-specific
// fields, and the record's associations. Fields values must stay JSON-shaped
// (maps, slices, strings, float64, bool, nil) so records round-trip through
// the wire codec and the structural differ without loss.
type Syncable struct {
	Type         string         `json:"type"`
	ID           ID             `json:"id"`
	Fields       map[string]any `json:"fields,omitempty"`
	Associations []Association  `json:"associations,omitempty"`
}

// New creates a record with the given identity and no fields.
func New(typeName string, id ID) *Syncable {
	return &Syncable{Type: typeName, ID: id}
}

// Ref returns the record's identity ref.
func (s *Syncable) Ref() Ref {
	return Ref{Type: s.Type, ID: s.ID}
}

// Clone deep-copies the record.
func (s *Syncable) Clone() *Syncable {
	out := &Syncable{Type: s.Type, ID: s.ID}
	if s.Fields != nil {
		out.Fields = diff.CloneValue(s.Fields).(map[string]any)
	}
	if s.Associations != nil {
		out.Associations = make([]Association, len(s.Associations))
		copy(out.Associations, s.Associations)
	}
	return out
}

// Get returns a field value by name.
func (s *Syncable) Get(name string) (any, bool) {
	v, ok := s.Fields[name]
	return v, ok
}

// Set writes a field value, allocating the field map on first use.
func (s *Syncable) Set(name string, value any) {
	if s.Fields == nil {
		s.Fields = make(map[string]any)
	}
	s.Fields[name] = value
}

// Associate adds an edge from source to this record. An existing association
// with the same source identity and name is replaced rather than duplicated.
func (s *Syncable) Associate(a Association) {
	a.Ref = a.Ref.Identity()
	for i, existing := range s.Associations {
		if existing.Ref == a.Ref && existing.Name == a.Name {
			s.Associations[i] = a
			return
		}
	}
	s.Associations = append(s.Associations, a)
}

// Unassociate removes the edge from source with the given name. It reports
// whether an association was removed.
func (s *Syncable) Unassociate(source Ref, name string) bool {
	source = source.Identity()
	for i, existing := range s.Associations {
		if existing.Ref == source && existing.Name == name {
			s.Associations = append(s.Associations[:i], s.Associations[i+1:]...)
			return true
		}
	}
	return false
}

// AssociationsNamed returns the record's associations with the given name.
// An empty name returns all associations.
func (s *Syncable) AssociationsNamed(name string) []Association {
	if name == "" {
		return append([]Association(nil), s.Associations...)
	}
	var out []Association
	for _, a := range s.Associations {
		if a.Name == name {
			out = append(out, a)
		}
	}
	return out
}

// Doc renders the record as a JSON-shaped document, the form the structural
// differ operates on. Doc and FromDoc round-trip losslessly.
func (s *Syncable) Doc() (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding syncable %s: %w", s.Ref(), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding syncable %s: %w", s.Ref(), err)
	}
	return doc, nil
}

// FromDoc rebuilds a record from its document form.
func FromDoc(doc map[string]any) (*Syncable, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	var s Syncable
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if s.Type == "" || s.ID == "" {
		return nil, fmt.Errorf("document missing type/id header")
	}
	return &s, nil
}
