package omt

import (
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/ulikunitz/xz"
)

// MaxFallback bounds the number of records queued for the fallback tool.
const MaxFallback = 1024

// Engine walks record trees. It is single threaded: every call runs to
// completion before the next one starts, depth first.
type Engine struct {
	tree       *Tree
	registry   *Registry
	writer     *Writer
	reassembly *Reassembler
	fallback   []RecordID
	queued     map[RecordID]bool
	stats      *Stats
	rep        reporter
	log        *slog.Logger
}

// NewEngine returns an engine extracting records of tree through writer.
func NewEngine(tree *Tree, writer *Writer, stats *Stats, logger *slog.Logger) *Engine {
	rep := reporter{log: logger, stats: stats}
	return &Engine{
		tree:       tree,
		registry:   DefaultRegistry(),
		writer:     writer,
		reassembly: newReassembler(tree),
		queued:     make(map[RecordID]bool),
		stats:      stats,
		rep:        rep,
		log:        logger,
	}
}

// Fallback returns the records queued for the fallback tool.
func (e *Engine) Fallback() []RecordID {
	return e.fallback
}

// Extract decodes a record and, depending on its handler, its sub-records.
// Source files start at depth 1; reassembled records start at 0. Failures
// are counted and logged; every outcome other than a fallback request is
// reported as done.
func (e *Engine) Extract(id RecordID, depth int) OutcomeKind {
	rec := e.tree.Get(id)
	e.stats.Records++
	rec.Depth = depth
	if depth > e.stats.MaxDepth {
		e.stats.MaxDepth = depth
	}
	if depth > MaxDepth {
		return e.apply(rec, Outcome{Kind: OutcomeDepthLimit})
	}

	rule := e.registry.Match(rec.Raw)
	if rule == nil {
		return e.opaque(rec)
	}
	hdr, err := DecodeHeader(rule.Kind, rec.Raw)
	if err != nil {
		e.rep.warn("malformed header", "depth", depth, "record", headerASCII(rec.Raw), "kind", rule.Kind, "err", err)
		return e.opaque(rec)
	}
	rec.Kind, rec.Header = rule.Kind, hdr
	e.describe(rec)

	in := HandlerInput{
		Raw:    rec.Raw,
		Header: hdr,
		Depth:  depth,
	}
	if parent := e.tree.Parent(rec); parent != nil {
		in.HasParent = true
		in.ParentName = e.tree.parentNameField(rec)
	}
	return e.apply(rec, rule.Handler(in))
}

func (e *Engine) apply(rec *Record, out Outcome) OutcomeKind {
	log := e.log.With("depth", rec.Depth+1)
	if out.Name != "" {
		rec.SetName(out.Name, out.Ext)
	}
	if out.Extracted != nil {
		rec.Extracted = out.Extracted
	}
	for _, w := range out.Warnings {
		e.rep.warn(w, "depth", rec.Depth, "record", headerASCII(rec.Raw))
	}
	if out.Control != ControlNone {
		e.stats.Control[out.Control] = partsCount(rec.Header)
	}
	if out.Write != nil {
		e.writer.Write(rec, 0, out.Write)
	}
	if out.Body != nil {
		e.descend(rec, PartReplacesParent, out.Body)
	}

	switch out.Kind {
	case OutcomeNoHandler:
		return e.opaque(rec)
	case OutcomeNotImplemented:
		e.stats.NotImplemented++
		log.Info("extraction not implemented")
	case OutcomeDepthLimit:
		e.stats.DepthLimited++
		log.Info("depth max limit reached")
	case OutcomeDecompressFailed:
		e.stats.DecompressFailed++
		e.rep.warn("decompression failed", "depth", rec.Depth, "record", headerASCII(rec.Raw), "err", out.Err)
	case OutcomePartsRecords, OutcomePartsFiles:
		e.split(rec, out.Kind)
	case OutcomeFallback:
		e.queueFallback(rec)
		return OutcomeFallback
	case OutcomeReassemble:
		if err := e.reassembly.add(rec.ID); err != nil {
			name := archiveName(e.tree.parentNameField(rec))
			e.rep.warn("cannot reassemble, writing part as is", "depth", rec.Depth, "archive", name, "err", err)
			rec.SetName(name, "")
			e.writer.Write(rec, 0, rec.Extracted)
			break
		}
		log.Info("storing in reassembly list")
	}
	return OutcomeDone
}

// split cuts a record into the parts listed in its offset table, decoding
// them as records or writing them out.
func (e *Engine) split(rec *Record, kind OutcomeKind) {
	pt, ok := rec.Header.(partitioned)
	if !ok {
		return
	}
	spans, err := pt.Parts().Spans(len(rec.Raw))
	if err != nil {
		e.rep.warn("bad offset table", "depth", rec.Depth, "record", headerASCII(rec.Raw), "err", err)
		return
	}
	for n, s := range spans {
		part := rec.Raw[s.Off : s.Off+s.Len]
		if kind == OutcomePartsRecords {
			e.descend(rec, n, part)
		} else {
			e.writer.Write(rec, n, part)
		}
	}
}

func (e *Engine) descend(rec *Record, part int, raw []byte) {
	id, err := e.tree.AddChild(rec.ID, part, raw)
	if err != nil {
		e.rep.warn("cannot add sub-record", "depth", rec.Depth, "record", headerASCII(rec.Raw), "err", err)
		return
	}
	e.Extract(id, rec.Depth+1)
}

// opaque handles bytes no rule matches. They are written verbatim and
// handed to the fallback tool. When the parent already wrote the same bytes,
// the parent's file goes to the fallback tool instead.
func (e *Engine) opaque(rec *Record) OutcomeKind {
	e.stats.Unknown++
	name := headerASCII(rec.Raw)
	e.log.Info("unknown record, no handler found", "depth", rec.Depth, "record", name, "size", len(rec.Raw))
	if parent := e.tree.Parent(rec); parent != nil && parent.Path != "" {
		e.queueFallback(parent)
		return OutcomeDone
	}
	ext := ""
	if len(rec.Raw) >= xz.HeaderLen && xz.ValidHeader(rec.Raw[:xz.HeaderLen]) {
		ext = "xz"
		e.log.Debug("xz stream left for the fallback tool", "depth", rec.Depth+1, "record", name)
	}
	rec.SetName(name, ext)
	e.writer.Write(rec, 0, rec.Raw)
	e.queueFallback(rec)
	return OutcomeDone
}

// queueFallback schedules a written record for the fallback tool, at most
// once. Records whose file never reached disk are left out.
func (e *Engine) queueFallback(rec *Record) {
	if e.queued[rec.ID] {
		return
	}
	if rec.Path == "" && !e.writer.listOnly {
		e.log.Debug("record not written, not queued for fallback", "depth", rec.Depth, "record", headerASCII(rec.Raw))
		return
	}
	if len(e.fallback) >= MaxFallback {
		e.rep.warn("fallback queue full, skipping", "path", rec.Path)
		return
	}
	e.fallback = append(e.fallback, rec.ID)
	e.queued[rec.ID] = true
	e.stats.FallbackQueued++
}

func (e *Engine) describe(rec *Record) {
	log := e.log.With("depth", rec.Depth)
	switch h := rec.Header.(type) {
	case *GenericHeader:
		log.Info("record", "name", headerASCII(rec.Raw), "size", h.Size, "parts", len(h.Offsets))
	case *ArchiveHeader:
		log.Info("archive", "name", cstring(h.Name[:]), "size", h.Size, "parts", len(h.Offsets))
	case *ArchivePartHeader:
		log.Info("decompress archive part", "name", headerASCII(rec.Raw), "size", h.ContentSize, "expect", humanize.Bytes(uint64(h.DecompressedSize)))
	case *XPLFHeader:
		log.Info("xplf", "name", cstring(h.Name[:]), "size", h.Size, "parts", len(h.Offsets))
	case *BlobHeader:
		log.Info("blob", "name", cstring(h.Name[:]))
	case *RPDOHeader:
		log.Info("decompress rpdo", "name", headerASCII(rec.Raw))
	default:
		log.Debug("record", "kind", rec.Kind, "name", headerASCII(rec.Raw), "size", len(rec.Raw))
	}
}
