package index

import "maps"

// Field is one named value of a Document.
type Field struct {
	Name  string
	Value any
}

// Document is the indexable representation of an entity: an ordered list of
// named fields. Setting an existing field replaces its value in place.
type Document struct {
	fields []Field
	pos    map[string]int
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{pos: make(map[string]int)}
}

// Set assigns name and returns the document for chaining.
func (d *Document) Set(name string, value any) *Document {
	if i, ok := d.pos[name]; ok {
		d.fields[i].Value = value
		return d
	}
	d.pos[name] = len(d.fields)
	d.fields = append(d.fields, Field{Name: name, Value: value})
	return d
}

// Get returns the value of name.
func (d *Document) Get(name string) (any, bool) {
	i, ok := d.pos[name]
	if !ok {
		return nil, false
	}
	return d.fields[i].Value, true
}

// Fields returns the fields in insertion order.
func (d *Document) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// Len returns the number of fields.
func (d *Document) Len() int {
	return len(d.fields)
}

// Map returns the fields as a map.
func (d *Document) Map() map[string]any {
	m := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		m[f.Name] = f.Value
	}
	return m
}

// Clone returns a deep copy of the field list.
func (d *Document) Clone() *Document {
	return &Document{fields: d.Fields(), pos: maps.Clone(d.pos)}
}
