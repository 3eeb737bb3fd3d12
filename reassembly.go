package omt

import (
	"bytes"

	"github.com/pkg/errors"
)

// MaxCandidates bounds the number of archive parts held for reassembly.
const MaxCandidates = 255

var (
	ErrTooManyCandidates = errors.New("too many reassembly candidates")

	xplfMagic = []byte("XPLF")
)

// Reassembler collects decompressed parts of multi-file archives. Parts are
// named after their archive, whose 8th character is a sequence letter: A for
// the first part, B for the next and so on.
type Reassembler struct {
	tree       *Tree
	candidates []RecordID
}

func newReassembler(tree *Tree) *Reassembler {
	return &Reassembler{tree: tree}
}

func (r *Reassembler) add(id RecordID) error {
	if len(r.candidates) >= MaxCandidates {
		return ErrTooManyCandidates
	}
	r.candidates = append(r.candidates, id)
	return nil
}

func (r *Reassembler) Len() int {
	return len(r.candidates)
}

// link chains every candidate to the candidate that follows it: same first
// 7 name characters, next letter, and content that does not open a nested
// XPLF structure of its own. The first match wins and a candidate is linked
// from at most one predecessor, so chains stay linear.
func (r *Reassembler) link() {
	for _, a := range r.candidates {
		ra := r.tree.Get(a)
		an := r.tree.parentNameField(ra)
		if len(an) < nameLen {
			continue
		}
		for _, b := range r.candidates {
			if a == b {
				continue
			}
			rb := r.tree.Get(b)
			bn := r.tree.parentNameField(rb)
			if len(bn) < nameLen || rb.SeqPrev != NoRecord {
				continue
			}
			if bytes.Equal(an[:nameLen-1], bn[:nameLen-1]) &&
				bn[nameLen-1] == an[nameLen-1]+1 &&
				!bytes.HasPrefix(rb.Extracted, xplfMagic) {
				ra.SeqNext = b
				rb.SeqPrev = a
				break
			}
		}
	}
}

// chains returns every sequence in candidate order, starting at records
// without a predecessor.
func (r *Reassembler) chains() [][]RecordID {
	var chains [][]RecordID
	for _, id := range r.candidates {
		rec := r.tree.Get(id)
		if rec.SeqPrev != NoRecord {
			continue
		}
		chain := []RecordID{id}
		for next := rec.SeqNext; next != NoRecord; next = r.tree.Get(next).SeqNext {
			chain = append(chain, next)
		}
		chains = append(chains, chain)
	}
	return chains
}

// Reassemble joins every detected sequence, writes it under the name of the
// archive holding its first part and decodes the joined bytes again as a
// fresh record. A first part without successor is reported as orphaned and
// still written and decoded on its own.
func (e *Engine) Reassemble() {
	r := e.reassembly
	if r.Len() == 0 {
		return
	}
	e.stats.Candidates = r.Len()
	e.log.Info("looking for sequences for reassembly", "records", r.Len())
	r.link()
	for _, a := range r.candidates {
		if next := e.tree.Get(a).SeqNext; next != NoRecord {
			e.log.Debug("file sequence detected",
				"part", archiveName(e.tree.parentNameField(e.tree.Get(a))),
				"next", archiveName(e.tree.parentNameField(e.tree.Get(next))))
		}
	}

	e.log.Info("performing reassembly from sequences start")
	for _, chain := range r.chains() {
		head := e.tree.Get(chain[0])
		name := archiveName(e.tree.parentNameField(head))
		if len(chain) == 1 {
			e.stats.Orphans++
			e.rep.warn("reassembly: orphaned archive found", "archive", name)
		}
		e.log.Info("reassembling archive", "archive", name, "parts", len(chain))

		size := 0
		for _, id := range chain {
			size += len(e.tree.Get(id).Extracted)
		}
		buf := make([]byte, 0, size)
		for _, id := range chain {
			rec := e.tree.Get(id)
			e.log.Debug("concat", "archive", archiveName(e.tree.parentNameField(rec)), "size", len(rec.Extracted))
			buf = append(buf, rec.Extracted...)
		}

		head.Depth = 0
		head.SetName(name, "")
		e.writer.Write(head, 0, buf)
		e.stats.Reassembled++

		id, err := e.tree.AddChild(head.ID, 0, buf)
		if err != nil {
			e.rep.warn("cannot add reassembled record", "archive", name, "err", err)
			continue
		}
		e.Extract(id, 0)
	}
}
