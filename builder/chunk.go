package builder

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rpcpool/mircv/codec/unary"
	"github.com/rpcpool/mircv/codec/varbyte"
	"github.com/rpcpool/mircv/diskmap"
	"github.com/rpcpool/mircv/docindex"
	"github.com/rpcpool/mircv/lexicon"
)

type posting struct {
	docid uint64
	freq  uint64
}

// processChunk tokenizes and accumulates one chunk's documents in memory,
// then flushes the resulting shard under diskMu: the chunk-internal work
// (tokenizing, counting per-document term frequencies) runs unlocked so
// workers overlap, and only the actual directory creation and file writes
// are serialized.
func (b *Builder) processChunk(c chunk, outDir string, docLenSum *int64, diskMu *sync.Mutex) (string, error) {
	if len(c.docs) == 0 {
		return "", nil
	}
	baseDocID := c.docs[0].docid
	tok := b.opts.tokenizer()

	terms := make(map[string][]posting)
	diW := docindex.NewWriter(baseDocID, b.opts.CompressDocnos)

	var localDocLen int64
	for _, d := range c.docs {
		freqs := make(map[string]uint64)
		for _, term := range tok.Tokenize(d.text) {
			freqs[term]++
		}
		var doclen uint64
		for _, f := range freqs {
			doclen += f
		}
		diW.Add(doclen, d.docno)
		localDocLen += int64(doclen)
		for term, f := range freqs {
			terms[term] = append(terms[term], posting{docid: d.docid, freq: f})
		}
	}
	atomic.AddInt64(docLenSum, localDocLen)

	sortedTerms := make([]string, 0, len(terms))
	for t := range terms {
		sortedTerms = append(sortedTerms, t)
	}
	sort.Strings(sortedTerms)

	var docBuf bytes.Buffer
	freqW := unary.NewWriter()
	lexW := diskmap.NewWriter[lexicon.Value](lexicon.ValueCodec{})
	bitCount := 0
	for _, term := range sortedTerms {
		ps := terms[term]
		startDoc := uint64(docBuf.Len())
		startFreq := unary.SerializeBitOffset(int64(bitCount/8), uint(bitCount%8))
		for _, p := range ps {
			docBuf.Write(varbyte.Encode(nil, p.docid))
			freqW.Put(p.freq)
			bitCount += int(p.freq)
		}
		lv := lexicon.Value{
			StartDocID: startDoc,
			EndDocID:   uint64(docBuf.Len()),
			StartFreq:  startFreq,
			EndFreq:    unary.SerializeBitOffset(int64(bitCount/8), uint(bitCount%8)),
			NDocs:      uint64(len(ps)),
		}
		if err := lexW.Add([]byte(term), lv); err != nil {
			return "", fmt.Errorf("lexicon add %q: %w", term, err)
		}
	}

	var lexBuf, diBuf bytes.Buffer
	if err := lexW.Finalize(&lexBuf); err != nil {
		return "", fmt.Errorf("finalize temp lexicon: %w", err)
	}
	if err := diW.Finalize(&diBuf); err != nil {
		return "", fmt.Errorf("finalize document index: %w", err)
	}

	dir := shardDir(outDir, c.idx)

	diskMu.Lock()
	defer diskMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	if err := writeFile(dir+"/posting_lists_docids", docBuf.Bytes()); err != nil {
		return "", err
	}
	if err := writeFile(dir+"/posting_lists_freqs", freqW.Bytes()); err != nil {
		return "", err
	}
	if err := writeFile(dir+"/lexicon_temp", lexBuf.Bytes()); err != nil {
		return "", err
	}
	if err := writeFile(dir+"/document_index", diBuf.Bytes()); err != nil {
		return "", err
	}
	return dir, nil
}
