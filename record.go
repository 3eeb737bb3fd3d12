package omt

import (
	"io"
	"strconv"
)

// RecordID addresses a record inside a Tree.
type RecordID int

const (
	// NoRecord is the nil RecordID.
	NoRecord RecordID = -1

	// PartReplacesParent marks a child that stands for its parent's
	// content rather than being one of several parts.
	PartReplacesParent = -1

	MaxDepth    = 25
	MaxChildren = 255
)

// Record is one node of the extraction tree.
type Record struct {
	ID       RecordID
	Raw      []byte
	Depth    int
	Kind     Kind
	Header   Header
	Parent   RecordID
	Children []RecordID
	Part     int

	// Name and Ext are assigned by handlers; Path is resolved on write.
	Name string
	Ext  string
	Path string

	// Extracted holds owned decompressed or reassembled bytes.
	Extracted []byte
	SeqNext   RecordID
	SeqPrev   RecordID

	source io.Closer
}

// SetName assigns the record's sanitized base name and extension.
func (r *Record) SetName(name, ext string) {
	r.Name = sanitizeName(name)
	r.Ext = ext
}

// Tree is an arena of records. Parents own their children through index
// lists; back references are plain indices.
type Tree struct {
	records []*Record
	roots   []RecordID
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

func (t *Tree) add(rec *Record) RecordID {
	rec.ID = RecordID(len(t.records))
	rec.SeqNext, rec.SeqPrev = NoRecord, NoRecord
	t.records = append(t.records, rec)
	return rec.ID
}

// AddRoot adds a record for a whole source file. src, if not nil, is closed
// when the tree is torn down and must keep raw valid until then.
func (t *Tree) AddRoot(name string, raw []byte, src io.Closer) RecordID {
	id := t.add(&Record{
		Raw:    raw,
		Parent: NoRecord,
		Name:   sanitizeName(name),
		source: src,
	})
	t.roots = append(t.roots, id)
	return id
}

// AddChild adds a sub-record of parent viewing raw.
func (t *Tree) AddChild(parent RecordID, part int, raw []byte) (RecordID, error) {
	p := t.Get(parent)
	if len(p.Children) >= MaxChildren {
		return NoRecord, ErrTooManyChildren
	}
	id := t.add(&Record{
		Raw:    raw,
		Parent: parent,
		Part:   part,
	})
	p.Children = append(p.Children, id)
	return id, nil
}

// Get returns the record with the given id, or nil.
func (t *Tree) Get(id RecordID) *Record {
	if id < 0 || int(id) >= len(t.records) {
		return nil
	}
	return t.records[id]
}

// Parent returns the parent of r, or nil for a root.
func (t *Tree) Parent(r *Record) *Record {
	return t.Get(r.Parent)
}

// parentNameField returns the raw name field of r's parent header, if any.
func (t *Tree) parentNameField(r *Record) []byte {
	if p := t.Parent(r); p != nil {
		if n, ok := p.Header.(named); ok {
			return n.NameField()
		}
	}
	return nil
}

// Roots lists the source file records in insertion order.
func (t *Tree) Roots() []RecordID {
	return t.roots
}

// Len is the number of records in the tree.
func (t *Tree) Len() int {
	return len(t.records)
}

// OutputName builds the file name of part n of a record from the base names
// of the record and its named ancestors. A named record that is not the
// first part of its parent is prefixed with its part number.
func (t *Tree) OutputName(id RecordID, n int) string {
	rec := t.Get(id)
	var path string
	for r := rec; r != nil; r = t.Parent(r) {
		if r.Name == "" {
			continue
		}
		if path == "" {
			path = r.Name
		} else {
			path = r.Name + "_" + path
		}
		if r.Part > 0 {
			path = strconv.Itoa(r.Part) + "-" + path
		}
	}
	if n > 0 {
		path += "-" + strconv.Itoa(n)
	}
	if rec.Ext != "" {
		path += "." + rec.Ext
	}
	return path
}

// Close tears every root subtree down depth first and releases the source
// mappings.
func (t *Tree) Close() error {
	var first error
	for _, id := range t.roots {
		if err := t.release(id); err != nil && first == nil {
			first = err
		}
	}
	t.records, t.roots = nil, nil
	return first
}

func (t *Tree) release(id RecordID) error {
	rec := t.Get(id)
	for _, c := range rec.Children {
		t.release(c)
	}
	rec.Extracted = nil
	rec.Raw = nil
	if rec.source != nil {
		src := rec.source
		rec.source = nil
		return src.Close()
	}
	return nil
}
