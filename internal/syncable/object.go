// ABOUTME: Materialized wrapper objects over canonical records, plus the factory.
// ABOUTME: Wrappers are identity-stable typed views; the factory is the pluggable catalog.

package syncable

// Object is a materialized view over exactly one canonical record. The
// manager caches one wrapper per identity, so two lookups of the same
// unchanged record observe the same Object instance. Wrappers never own their
// record; they read through to whatever the manager currently holds.
type Object interface {
	// Ref returns the identity of the wrapped record.
	Ref() Ref

	// Syncable returns the wrapped canonical record. Callers must treat it
	// as read-only; mutations flow through the change pipeline.
	Syncable() *Syncable
}

// Base is the default Object implementation and the embeddable core for
// typed wrappers.
type Base struct {
	record *Syncable
}

// NewBase wraps a record.
func NewBase(record *Syncable) *Base {
	return &Base{record: record}
}

// Ref implements Object.
func (b *Base) Ref() Ref {
	return b.record.Ref()
}

// Syncable implements Object.
func (b *Base) Syncable() *Syncable {
	return b.record
}

// Field returns a field value from the wrapped record.
func (b *Base) Field(name string) (any, bool) {
	return b.record.Get(name)
}

// StringField returns a field coerced to string, or "" when absent or not a
// string.
func (b *Base) StringField(name string) string {
	v, ok := b.record.Get(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Constructor builds a typed wrapper for one record.
type Constructor func(record *Syncable) Object

// Factory is the pluggable wrapper catalog: type discriminator to
// constructor. Types without a registered constructor materialize as *Base,
// so the engine works with unregistered domain types out of the box.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register installs the constructor for a syncable type, replacing any
// previous registration.
func (f *Factory) Register(typeName string, c Constructor) {
	f.constructors[typeName] = c
}

// New materializes a wrapper for the record.
func (f *Factory) New(record *Syncable) Object {
	if c, ok := f.constructors[record.Type]; ok {
		return c(record)
	}
	return NewBase(record)
}
