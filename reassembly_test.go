package omt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sequenceRoot(t *testing.T, name string, parts map[string][]byte, order ...string) []byte {
	t.Helper()
	var archives [][]byte
	for _, n := range order {
		archives = append(archives, archiveRecord(n, archivePart(t, parts[n])))
	}
	return genericRecord(name, "BDXU", archives...)
}

func TestReassembleSequence(t *testing.T) {
	parts := map[string][]byte{
		"N2X0FWxA": lmcList("<list>"),
		"N2X0FWxB": []byte("<item/>"),
		"N2X0FWxC": []byte("</list>"),
	}
	orders := [][]string{
		{"N2X0FWxA", "N2X0FWxB", "N2X0FWxC"},
		{"N2X0FWxC", "N2X0FWxA", "N2X0FWxB"},
		{"N2X0FWxB", "N2X0FWxC", "N2X0FWxA"},
	}
	for _, order := range orders {
		te := newTestEngine(t, false)
		// One source per part, named after the part letter.
		for _, n := range order {
			src := "SRC" + n[7:] + "0001"
			te.Extract(te.root(src, sequenceRoot(t, src, parts, n)), 1)
		}
		assert.Equal(t, 3, te.reassembly.Len())
		assert.Empty(t, te.outputs(t), "parts are held back until reassembly")

		te.Reassemble()

		assert.Equal(t, "\x01\x00\x00\x00<list><item/></list>", string(te.readOutput(t, "SRCA0001_N2X0FWxA")), "order %v", order)
		assert.Equal(t, "<list><item/></list>", string(te.readOutput(t, "SRCA0001_N2X0FWxA_lmc_list.xml")))
		assert.Len(t, te.outputs(t), 2)
		assert.Equal(t, 3, te.stats.Candidates)
		assert.Equal(t, 1, te.stats.Reassembled)
		assert.Zero(t, te.stats.Orphans)
		assert.Zero(t, te.stats.Warnings)
	}
}

func TestReassembleWithinOneSource(t *testing.T) {
	te := newTestEngine(t, false)

	parts := map[string][]byte{
		"N2X0FWxA": lmcList("a"),
		"N2X0FWxB": []byte("b"),
	}
	te.Extract(te.root("ROOT0001", sequenceRoot(t, "ROOT0001", parts, "N2X0FWxB", "N2X0FWxA")), 1)
	te.Reassemble()

	// The head sits under the second, unnamed, archive of its source.
	assert.Equal(t, "ab", string(te.readOutput(t, "ROOT0001_N2X0FWxA_lmc_list.xml")))
}

func TestReassembleAcrossSources(t *testing.T) {
	te := newTestEngine(t, false)

	first := genericRecord("PKG00001", "BDXU", archiveRecord("N2X0FWxA", archivePart(t, lmcList("one,"))))
	second := genericRecord("PKG00002", "BDXU", archiveRecord("N2X0FWxB", archivePart(t, []byte("two"))))
	te.Extract(te.root("PKG00001", first), 1)
	te.Extract(te.root("PKG00002", second), 1)
	te.Reassemble()

	assert.Equal(t, "one,two", string(te.readOutput(t, "PKG00001_N2X0FWxA_lmc_list.xml")))
	// The joined record is decoded again from depth 0.
	joined := te.tree.Get(RecordID(te.tree.Len() - 1))
	assert.Equal(t, 0, joined.Depth)
}

func TestReassembleOrphan(t *testing.T) {
	te := newTestEngine(t, false)

	raw := sequenceRoot(t, "ROOT0001", map[string][]byte{"N2X0FWxA": []byte("lonely")}, "N2X0FWxA")
	te.Extract(te.root("ROOT0001", raw), 1)
	te.Reassemble()

	assert.Equal(t, 1, te.stats.Orphans)
	assert.Equal(t, 1, te.stats.Reassembled)
	assert.Equal(t, 1, te.stats.Warnings)
	assert.Equal(t, "lonely", string(te.readOutput(t, "ROOT0001_N2X0FWxA")))
	// The orphan does not decode and goes to the fallback tool.
	assert.Len(t, te.Fallback(), 1)
}

func TestReassembleSkipsNestedXPLF(t *testing.T) {
	te := newTestEngine(t, false)

	parts := map[string][]byte{
		"N2X0FWxA": []byte("first part"),
		"N2X0FWxB": []byte("XPLF and more"),
	}
	te.Extract(te.root("ROOT0001", sequenceRoot(t, "ROOT0001", parts, "N2X0FWxA", "N2X0FWxB")), 1)
	te.Reassemble()

	assert.Equal(t, 2, te.stats.Orphans)
	assert.Equal(t, "first part", string(te.readOutput(t, "ROOT0001_N2X0FWxA")))
	assert.Equal(t, "XPLF and more", string(te.readOutput(t, "ROOT0001_N2X0FWxB")))
}

func TestReassemblyListFull(t *testing.T) {
	te := newTestEngine(t, false)
	for i := 0; i < MaxCandidates; i++ {
		assert.NoError(t, te.reassembly.add(RecordID(i)))
	}

	raw := sequenceRoot(t, "ROOT0001", map[string][]byte{"N2X0FWxA": []byte("late")}, "N2X0FWxA")
	te.Extract(te.root("ROOT0001", raw), 1)

	assert.Equal(t, "late", string(te.readOutput(t, "ROOT0001_N2X0FWxA")))
	assert.Equal(t, 1, te.stats.Warnings)
}
