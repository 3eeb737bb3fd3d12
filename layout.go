package omt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the header shape decoded at the start of a record.
type Kind int

const (
	KindRaw Kind = iota
	KindGeneric
	KindArchive
	KindArchivePart
	KindXPLF
	KindBlob
	KindRPDO
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindGeneric:
		return "generic"
	case KindArchive:
		return "archive"
	case KindArchivePart:
		return "archive-part"
	case KindXPLF:
		return "xplf"
	case KindBlob:
		return "blob"
	case KindRPDO:
		return "rpdo"
	case KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

const (
	crcLen      = 4
	nameLen     = 8
	longNameLen = 32

	genericHeaderLen     = 64
	archiveHeaderLen     = 52
	archivePartHeaderLen = 28
	xplfHeaderLen        = 72
	blobHeaderLen        = 92
	rpdoHeaderLen        = 10
	tagHeaderLen         = 4

	// MinFileSize is the smallest source file that can hold a generic header.
	MinFileSize = genericHeaderLen
)

var (
	ErrShortHeader     = errors.New("record shorter than its header")
	ErrBadOffsets      = errors.New("offset table out of range")
	ErrTooManyChildren = errors.New("too many sub-records")
)

// Header is the decoded fixed prefix of a record. Each kind carries only
// the fields of its own shape.
type Header interface {
	Kind() Kind
}

// partitioned is implemented by headers followed by an offset table.
type partitioned interface {
	Parts() PartTable
}

// named is implemented by headers carrying a fixed-length name field.
type named interface {
	NameField() []byte
}

// GenericHeader is the header found at the start of every source file and
// most of its sub-records.
type GenericHeader struct {
	Name                 [nameLen]byte
	Size                 uint32
	Type                 uint32
	ID                   [8]byte
	RecordsCount         uint32
	FirstBlockNotIndexed uint32
	Offsets              []uint32
}

func (*GenericHeader) Kind() Kind { return KindGeneric }
func (h *GenericHeader) NameField() []byte { return h.Name[:] }
func (h *GenericHeader) Parts() PartTable { return PartTable{Size: h.Size, Offsets: h.Offsets} }
func (h *GenericHeader) TypeBytes() []byte { return binary.BigEndian.AppendUint32(nil, h.Type) }
func (h *GenericHeader) tableEnd() int { return genericHeaderLen + len(h.Offsets)*4 }

// ArchiveHeader introduces a set of compressed archive parts. A name ending
// in an uppercase letter marks one piece of a multi-file archive.
type ArchiveHeader struct {
	Name         [nameLen]byte
	Size         uint32
	RecordsCount uint32
	Offsets      []uint32
}

func (*ArchiveHeader) Kind() Kind { return KindArchive }
func (h *ArchiveHeader) NameField() []byte { return h.Name[:] }
func (h *ArchiveHeader) Parts() PartTable { return PartTable{Size: h.Size, Offsets: h.Offsets} }

// ArchivePartHeader precedes a zlib stream inside an archive.
type ArchivePartHeader struct {
	Magic            uint32
	ContentSize      uint32
	DecompressedSize uint32
}

func (*ArchivePartHeader) Kind() Kind { return KindArchivePart }

// XPLFHeader is found after decompression and describes a further
// compressed layer.
type XPLFHeader struct {
	Name         [longNameLen]byte
	Size         uint32
	RecordsCount uint32
	Offsets      []uint32
}

func (*XPLFHeader) Kind() Kind { return KindXPLF }
func (h *XPLFHeader) NameField() []byte { return h.Name[:] }
func (h *XPLFHeader) Parts() PartTable { return PartTable{Size: h.Size, Offsets: h.Offsets} }

// BlobHeader introduces an opaque named payload.
type BlobHeader struct {
	HeaderLen uint32
	Name      [longNameLen]byte
}

func (*BlobHeader) Kind() Kind { return KindBlob }
func (h *BlobHeader) NameField() []byte { return h.Name[:] }

// RPDOHeader precedes a zlib stream whose name sits in the record trailer.
type RPDOHeader struct {
	Unknown1 uint32
	Unknown2 uint16
}

func (*RPDOHeader) Kind() Kind { return KindRPDO }

// TagHeader is a bare 4 byte tag with no offset table.
type TagHeader struct {
	Tag [4]byte
}

func (*TagHeader) Kind() Kind { return KindTag }

// RawHeader describes content without a known header: the whole record
// is a single part.
type RawHeader struct {
	Size uint32
}

func (*RawHeader) Kind() Kind { return KindRaw }

// DecodeHeader decodes the fixed prefix of b for the given kind, including
// any trailing offset table.
func DecodeHeader(kind Kind, b []byte) (Header, error) {
	be := binary.BigEndian
	switch kind {
	case KindGeneric:
		if len(b) < genericHeaderLen {
			return nil, ErrShortHeader
		}
		h := &GenericHeader{
			Size:                 be.Uint32(b[8:]),
			Type:                 be.Uint32(b[12:]),
			RecordsCount:         be.Uint32(b[56:]),
			FirstBlockNotIndexed: be.Uint32(b[60:]),
		}
		copy(h.Name[:], b[0:8])
		copy(h.ID[:], b[32:40])
		offsets, err := decodeOffsets(b, genericHeaderLen, h.RecordsCount)
		if err != nil {
			return nil, err
		}
		h.Offsets = offsets
		return h, nil

	case KindArchive:
		if len(b) < archiveHeaderLen {
			return nil, ErrShortHeader
		}
		h := &ArchiveHeader{
			Size:         be.Uint32(b[44:]),
			RecordsCount: be.Uint32(b[48:]),
		}
		copy(h.Name[:], b[0:8])
		offsets, err := decodeOffsets(b, archiveHeaderLen, h.RecordsCount)
		if err != nil {
			return nil, err
		}
		h.Offsets = offsets
		return h, nil

	case KindArchivePart:
		if len(b) < archivePartHeaderLen {
			return nil, ErrShortHeader
		}
		return &ArchivePartHeader{
			Magic:            be.Uint32(b[0:]),
			ContentSize:      be.Uint32(b[4:]),
			DecompressedSize: be.Uint32(b[12:]),
		}, nil

	case KindXPLF:
		if len(b) < xplfHeaderLen {
			return nil, ErrShortHeader
		}
		h := &XPLFHeader{
			Size:         be.Uint32(b[52:]),
			RecordsCount: be.Uint32(b[68:]),
		}
		copy(h.Name[:], b[12:44])
		offsets, err := decodeOffsets(b, xplfHeaderLen, h.RecordsCount)
		if err != nil {
			return nil, err
		}
		h.Offsets = offsets
		return h, nil

	case KindBlob:
		if len(b) < blobHeaderLen {
			return nil, ErrShortHeader
		}
		h := &BlobHeader{HeaderLen: be.Uint32(b[8:])}
		copy(h.Name[:], b[24:56])
		return h, nil

	case KindRPDO:
		if len(b) < rpdoHeaderLen {
			return nil, ErrShortHeader
		}
		return &RPDOHeader{
			Unknown1: be.Uint32(b[4:]),
			Unknown2: be.Uint16(b[8:]),
		}, nil

	case KindTag:
		if len(b) < tagHeaderLen {
			return nil, ErrShortHeader
		}
		h := &TagHeader{}
		copy(h.Tag[:], b[0:4])
		return h, nil

	case KindRaw:
		return &RawHeader{Size: uint32(len(b))}, nil
	}
	return nil, errors.Errorf("unknown header kind %v", kind)
}

func decodeOffsets(b []byte, at int, count uint32) ([]uint32, error) {
	if count > MaxChildren {
		return nil, errors.Wrapf(ErrTooManyChildren, "%d offsets", count)
	}
	end := at + int(count)*4
	if end > len(b) {
		return nil, errors.Wrapf(ErrShortHeader, "offset table ends at %d, record is %d bytes", end, len(b))
	}
	offsets := make([]uint32, count)
	for i := range offsets {
		offsets[i] = binary.BigEndian.Uint32(b[at+i*4:])
	}
	return offsets, nil
}

// PartTable is a declared content size plus record-relative offsets to
// sub-records.
type PartTable struct {
	Size    uint32
	Offsets []uint32
}

// Span is a byte range inside a record.
type Span struct {
	Off int
	Len int
}

// Spans derives the byte range of every part. Each part runs to the next
// offset; the last one runs to the declared size minus the record and file
// CRC footers.
func (t PartTable) Spans(recordLen int) ([]Span, error) {
	spans := make([]Span, 0, len(t.Offsets))
	for n, off := range t.Offsets {
		var size int64
		if n == len(t.Offsets)-1 {
			size = int64(t.Size) - int64(off) - 2*crcLen
		} else {
			size = int64(t.Offsets[n+1]) - int64(off)
		}
		if size < 0 {
			return nil, errors.Wrapf(ErrBadOffsets, "part %d at %d has negative size %d", n, off, size)
		}
		if int64(off)+size > int64(recordLen) {
			return nil, errors.Wrapf(ErrBadOffsets, "part %d [%d, +%d) exceeds %d byte record", n, off, size, recordLen)
		}
		spans = append(spans, Span{Off: int(off), Len: int(size)})
	}
	return spans, nil
}

func partsCount(h Header) int {
	switch h := h.(type) {
	case partitioned:
		return len(h.Parts().Offsets)
	case *RawHeader:
		return 1
	}
	return 0
}
