package omt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// OutcomeKind tells the engine what to do once a handler has run.
type OutcomeKind int

const (
	OutcomeNoHandler OutcomeKind = iota
	OutcomeNotImplemented
	OutcomeDepthLimit
	OutcomeDecompressFailed
	OutcomeDone
	OutcomePartsRecords
	OutcomePartsFiles
	OutcomeFallback
	OutcomeReassemble
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoHandler:
		return "no-handler"
	case OutcomeNotImplemented:
		return "not-implemented"
	case OutcomeDepthLimit:
		return "depth-limit"
	case OutcomeDecompressFailed:
		return "decompress-failed"
	case OutcomeDone:
		return "done"
	case OutcomePartsRecords:
		return "parts-records"
	case OutcomePartsFiles:
		return "parts-files"
	case OutcomeFallback:
		return "fallback"
	case OutcomeReassemble:
		return "reassemble"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// ControlFile tags records whose part count is reported in the summary.
type ControlFile int

const (
	ControlNone ControlFile = iota
	ControlZFJ
	ControlUCF
	ControlMET
	controlCount
)

// Outcome is the result of a handler. The engine applies it in order:
// naming, kept bytes, warnings, Write, Body, then Kind.
type Outcome struct {
	Kind OutcomeKind

	// Name, when set, becomes the record's base name with extension Ext.
	Name string
	Ext  string

	// Write is persisted once under the record's name.
	Write []byte

	// Body is decoded further as a child that replaces this record.
	Body []byte

	// Extracted is kept on the record, for reassembly.
	Extracted []byte

	Control  ControlFile
	Warnings []string
	Err      error
}

// HandlerInput is everything a handler may look at: the record bytes, its
// decoded header and the name field of its parent, if any.
type HandlerInput struct {
	Raw        []byte
	Header     Header
	Depth      int
	HasParent  bool
	ParentName []byte
}

type Handler func(in HandlerInput) Outcome

func handleSplit(HandlerInput) Outcome {
	return Outcome{Kind: OutcomePartsRecords}
}

func handleArchive(HandlerInput) Outcome {
	return Outcome{Kind: OutcomePartsRecords}
}

func handleXPLF(in HandlerInput) Outcome {
	h := in.Header.(*XPLFHeader)
	return Outcome{Kind: OutcomePartsRecords, Name: cstring(h.Name[:])}
}

func handleUCF(HandlerInput) Outcome {
	return Outcome{
		Kind:    OutcomePartsFiles,
		Name:    "UCF_upgrade_control_file",
		Ext:     "xml",
		Control: ControlUCF,
	}
}

func handleMET(HandlerInput) Outcome {
	return Outcome{
		Kind:    OutcomePartsFiles,
		Name:    "MET_metadata",
		Ext:     "xml",
		Control: ControlMET,
	}
}

// handleZFJ writes the file information text found after the 12 byte
// name/size prefix, without the trailing CRC.
func handleZFJ(in HandlerInput) Outcome {
	out := Outcome{Kind: OutcomeDone, Name: "ZFJ_file_info", Ext: "txt", Control: ControlZFJ}
	if len(in.Raw) < 12 {
		out.Warnings = append(out.Warnings, "file info record too short")
		return out
	}
	end := int64(binary.BigEndian.Uint32(in.Raw[8:])) - crcLen
	if end < 12 || end > int64(len(in.Raw)) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("file info declares %d bytes, record holds %d", end+crcLen, len(in.Raw)))
		end = int64(len(in.Raw))
	}
	out.Write = in.Raw[12:end]
	return out
}

func handleLMCList(in HandlerInput) Outcome {
	return Outcome{Kind: OutcomeDone, Name: "lmc_list", Ext: "xml", Write: in.Raw[4:]}
}

// handleDecapsulate strips the generic header and its offset table and
// decodes the remainder in its place.
func handleDecapsulate(in HandlerInput) Outcome {
	h := in.Header.(*GenericHeader)
	out := Outcome{Kind: OutcomeDone}
	if in.HasParent {
		out.Name = cstring(h.Name[:4]) + "_" + cstring(h.TypeBytes())
	}
	if body := in.Raw[h.tableEnd():]; len(body) > 0 {
		out.Body = body
	}
	return out
}

func handleBlob(in HandlerInput) Outcome {
	h := in.Header.(*BlobHeader)
	return Outcome{
		Kind:  OutcomeFallback,
		Name:  cstring(h.Name[:]),
		Ext:   "blob",
		Write: in.Raw[blobHeaderLen:],
	}
}

// rpdoNameMarker precedes the record name in the RPDO trailer; the name
// itself starts at the "CX".
var rpdoNameMarker = []byte{0x00, 0x00, 'C', 'X'}

const rpdoNameWindow = 64

// handleRPDO inflates the stream between the header and the trailing CRC.
// The name is found by scanning backward from the end of the stream.
func handleRPDO(in HandlerInput) Outcome {
	raw := in.Raw
	zBeg, zEnd := rpdoHeaderLen, len(raw)-crcLen
	out := Outcome{Kind: OutcomeDone}
	if zEnd <= zBeg {
		out.Warnings = append(out.Warnings, "rpdo record has no compressed content")
		return out
	}
	if p := scanBackward(raw, rpdoNameMarker, zEnd, len(raw)-rpdoNameWindow); p >= 0 {
		out.Name = cstring(raw[p+2 : min(p+2+longNameLen, len(raw))])
		out.Ext = "rpdo"
	} else {
		out.Warnings = append(out.Warnings, "rpdo name marker not found")
	}
	buf, err := Inflate(raw, zBeg, zEnd-zBeg)
	if err != nil {
		out.Kind, out.Err = OutcomeDecompressFailed, err
		return out
	}
	out.Write = buf
	return out
}

// scanBackward returns the highest position p in [limit, from] where marker
// starts, or -1.
func scanBackward(b, marker []byte, from, limit int) int {
	limit = max(limit, 0)
	for p := min(from, len(b)-len(marker)); p >= limit; p-- {
		if bytes.Equal(b[p:p+len(marker)], marker) {
			return p
		}
	}
	return -1
}

// handleArchivePart inflates one compressed archive part. Parts of a
// multi-file archive are held back for reassembly; any other part is written
// under its archive's name and decoded further.
func handleArchivePart(in HandlerInput) Outcome {
	h := in.Header.(*ArchivePartHeader)
	var out Outcome
	zLen := int(h.ContentSize)
	if avail := len(in.Raw) - archivePartHeaderLen; zLen > avail {
		out.Warnings = append(out.Warnings, fmt.Sprintf("compressed size %d exceeds the %d bytes available", zLen, avail))
		zLen = avail
	}
	buf, err := Inflate(in.Raw, archivePartHeaderLen, zLen)
	if err != nil {
		out.Kind, out.Err = OutcomeDecompressFailed, err
		return out
	}
	if uint64(len(buf)) != uint64(h.DecompressedSize) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("decompressed %d bytes, header expects %d", len(buf), h.DecompressedSize))
	}
	out.Extracted = buf
	if isSequenceName(in.ParentName) {
		out.Kind = OutcomeReassemble
		return out
	}
	out.Kind = OutcomeFallback
	out.Name = archiveName(in.ParentName)
	out.Write = buf
	out.Body = buf
	return out
}

// archiveName returns the printable form of an 8 byte archive name field.
func archiveName(field []byte) string {
	return cstring(field[:min(nameLen, len(field))])
}

// isSequenceName reports whether an archive name carries a part letter.
func isSequenceName(name []byte) bool {
	return len(name) >= nameLen && name[nameLen-1] >= 'A' && name[nameLen-1] <= 'Z'
}
