// Package docindex implements a shard's document index: a fixed-width
// array of per-document metadata (length, docno offset) addressable in
// O(1) by docid, backed by a trailing heap of NUL-terminated docno
// strings. Unlike the term lexicons (diskmap), lookups here are by
// contiguous integer docid, so the format is a flat record array rather
// than a sorted, prefix-compressed map.
//
// Physical format:
//
//	Header (24 bytes): base_docid, length, flags (bit 0: docno heap is
//	                    zstd-compressed).
//	Records:            length * 16-byte records (doclen uint64,
//	                    docno_offset uint64), little-endian.
//	Docno heap:         NUL-terminated docno strings in docid order,
//	                    optionally zstd-compressed whole.
package docindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const recordSize = 16
const headerSize = 24

const flagCompressedHeap = 1 << 0

// Writer builds a shard's document index incrementally, in increasing
// docid order starting at baseDocID.
type Writer struct {
	baseDocID      uint64
	compressDocnos bool
	records        []byte
	heap           bytes.Buffer
}

// NewWriter returns a Writer whose first Add call describes docid
// baseDocID. When compressDocnos is set, the docno heap is zstd-compressed
// on Finalize, trading random-access reads of individual docnos for a
// smaller shard (the whole heap is decompressed once on Open).
func NewWriter(baseDocID uint64, compressDocnos bool) *Writer {
	return &Writer{baseDocID: baseDocID, compressDocnos: compressDocnos}
}

// Add appends the next document's length and external document number.
func (w *Writer) Add(doclen uint64, docno string) {
	offset := uint64(w.heap.Len())
	var rec [recordSize]byte
	binary.LittleEndian.PutUint64(rec[0:8], doclen)
	binary.LittleEndian.PutUint64(rec[8:16], offset)
	w.records = append(w.records, rec[:]...)
	w.heap.WriteString(docno)
	w.heap.WriteByte(0)
}

// Len returns the number of documents added so far.
func (w *Writer) Len() uint64 { return uint64(len(w.records) / recordSize) }

// Finalize writes the header, record array, and docno heap to out.
func (w *Writer) Finalize(out io.Writer) error {
	heapBytes := w.heap.Bytes()
	var flags uint64
	if w.compressDocnos {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("docindex: zstd writer: %w", err)
		}
		heapBytes = enc.EncodeAll(heapBytes, nil)
		if err := enc.Close(); err != nil {
			return err
		}
		flags |= flagCompressedHeap
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], w.baseDocID)
	binary.LittleEndian.PutUint64(header[8:16], w.Len())
	binary.LittleEndian.PutUint64(header[16:24], flags)

	if _, err := out.Write(header[:]); err != nil {
		return err
	}
	if _, err := out.Write(w.records); err != nil {
		return err
	}
	if _, err := out.Write(heapBytes); err != nil {
		return err
	}
	return nil
}

// Reader is a random-access view over a mapped document-index byte
// region.
type Reader struct {
	baseDocID uint64
	length    uint64
	records   []byte
	heap      []byte
}

// Open parses data produced by Writer.Finalize.
func Open(data []byte) (*Reader, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("docindex: data too short for header")
	}
	base := binary.LittleEndian.Uint64(data[0:8])
	length := binary.LittleEndian.Uint64(data[8:16])
	flags := binary.LittleEndian.Uint64(data[16:24])

	recordsEnd := headerSize + int(length)*recordSize
	if len(data) < recordsEnd {
		return nil, fmt.Errorf("docindex: data too short for %d records", length)
	}
	records := data[headerSize:recordsEnd]
	heap := data[recordsEnd:]

	if flags&flagCompressedHeap != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("docindex: zstd reader: %w", err)
		}
		defer dec.Close()
		decoded, err := dec.DecodeAll(heap, nil)
		if err != nil {
			return nil, fmt.Errorf("docindex: decompress docno heap: %w", err)
		}
		heap = decoded
	}

	return &Reader{baseDocID: base, length: length, records: records, heap: heap}, nil
}

// BaseDocID returns the docid of this shard's first document.
func (r *Reader) BaseDocID() uint64 { return r.baseDocID }

// Len returns the number of documents in this shard.
func (r *Reader) Len() uint64 { return r.length }

func (r *Reader) recordOffset(docid uint64) (int, error) {
	if docid < r.baseDocID || docid-r.baseDocID >= r.length {
		return 0, fmt.Errorf("docindex: docid %d out of range [%d, %d)", docid, r.baseDocID, r.baseDocID+r.length)
	}
	return int(docid-r.baseDocID) * recordSize, nil
}

// DocLen returns a document's length (sum of term frequencies).
func (r *Reader) DocLen(docid uint64) uint64 {
	off, err := r.recordOffset(docid)
	if err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(r.records[off : off+8])
}

// DocNo returns a document's external identifier.
func (r *Reader) DocNo(docid uint64) string {
	off, err := r.recordOffset(docid)
	if err != nil {
		return ""
	}
	heapOff := binary.LittleEndian.Uint64(r.records[off+8 : off+16])
	end := bytes.IndexByte(r.heap[heapOff:], 0x00)
	if end < 0 {
		return ""
	}
	return string(r.heap[heapOff : heapOff+uint64(end)])
}

// AvgDocLen returns the mean document length across the shard, used as
// the avgdl input to BM25 scoring. It returns 0 for an empty shard.
func (r *Reader) AvgDocLen() float64 {
	if r.length == 0 {
		return 0
	}
	var total uint64
	for i := uint64(0); i < r.length; i++ {
		off := int(i) * recordSize
		total += binary.LittleEndian.Uint64(r.records[off : off+8])
	}
	return float64(total) / float64(r.length)
}
