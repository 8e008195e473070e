// Package builder implements chunked, parallel index construction: a
// single-threaded producer reads "<pid>\t<text>\n" lines from a stream,
// assigns docids in input order, and hands off fixed-byte-budget chunks to
// a worker pool. Each worker
// tokenizes its chunk's documents, accumulates per-term posting lists in
// memory, and flushes them to a shard directory under a disk-write mutex.
// Once every shard has flushed, the builder merges the shards' temporary
// lexicons into a global lexicon (term -> corpus-wide document frequency)
// and runs a second, per-shard pass that replaces each temporary lexicon
// with a sigma-augmented one carrying score upper bounds and a skip-list.
package builder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rpcpool/mircv/workerpool"
)

// Stats summarizes a completed build, reported by the CLI.
type Stats struct {
	NumShards   int
	NumDocs     uint64
	TotalDocLen uint64
	Elapsed     time.Duration
}

// AvgDocLen returns the corpus-wide average document length, the avgdl
// every shard normalizes BM25 scores against.
func (s Stats) AvgDocLen() float64 {
	if s.NumDocs == 0 {
		return 0
	}
	return float64(s.TotalDocLen) / float64(s.NumDocs)
}

// Builder owns the options for one build run. It holds no mutable state
// of its own between Run calls.
type Builder struct {
	opts Options
}

// New returns a Builder configured by opts.
func New(opts Options) *Builder {
	return &Builder{opts: opts}
}

type doc struct {
	docid uint64
	docno string
	text  string
}

type chunk struct {
	idx  int
	docs []doc
}

// firstDocID is the docid assigned to the first document of the first
// shard; docids are dense and 1-based from here on.
const firstDocID = 1

// Run reads "<pid>\t<text>\n" lines from r, builds one shard per flushed
// chunk under outDir, then merges the global lexicon and runs the
// sigma/skip-list pass. outDir must already exist or be creatable.
func (b *Builder) Run(ctx context.Context, r io.Reader, outDir string) (Stats, error) {
	start := time.Now()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Stats{}, fmt.Errorf("builder: create output directory: %w", err)
	}

	pool := workerpool.New(b.opts.numWorkers())

	// inFlight bounds the producer to at most numWorkers+1 chunks read
	// ahead of the pool: one chunk per worker plus one more being
	// assembled while all workers are busy. WaitForFreeWorker
	// alone only throttles on worker availability; this semaphore is the
	// hard cap on how far the scanner can outrun the pool's drain rate.
	inFlight := semaphore.NewWeighted(int64(b.opts.numWorkers() + 1))

	var (
		diskMu     sync.Mutex // serializes chunk flushes & shard-path registration
		shardsMu   sync.Mutex
		shardByIdx = map[int]string{}
		docLenSum  int64 // atomic
		nextDocID  = uint64(firstDocID)
		chunkIdx   int
		errOnce    sync.Once
		firstErr   error
	)
	recordErr := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}

	var bar progressBar
	if b.opts.Progress != nil {
		bar = newChunkBar(b.opts.Progress)
	}

	flush := func(c chunk) error {
		if len(c.docs) == 0 {
			return nil
		}
		if err := inFlight.Acquire(ctx, 1); err != nil {
			return err
		}
		pool.Submit(func() {
			defer inFlight.Release(1)
			dir, err := b.processChunk(c, outDir, &docLenSum, &diskMu)
			if err != nil {
				recordErr(fmt.Errorf("builder: chunk %d: %w", c.idx, err))
				return
			}
			shardsMu.Lock()
			shardByIdx[c.idx] = dir
			shardsMu.Unlock()
			bar.Increment(len(c.docs))
		})
		pool.WaitForFreeWorker()
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var cur chunk
	var curBytes int64
	maxSpace := b.opts.maxChunkSpace()

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			pool.Shutdown()
			return Stats{}, ctx.Err()
		default:
		}
		line := scanner.Text()
		pid, text, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		cur.docs = append(cur.docs, doc{docid: nextDocID, docno: pid, text: text})
		nextDocID++
		curBytes += int64(len(pid) + len(text))
		if curBytes >= maxSpace {
			cur.idx = chunkIdx
			chunkIdx++
			if err := flush(cur); err != nil {
				pool.Shutdown()
				return Stats{}, err
			}
			cur = chunk{}
			curBytes = 0
		}
	}
	if err := scanner.Err(); err != nil {
		pool.Shutdown()
		return Stats{}, fmt.Errorf("builder: read input: %w", err)
	}
	if len(cur.docs) > 0 {
		cur.idx = chunkIdx
		chunkIdx++
		if err := flush(cur); err != nil {
			pool.Shutdown()
			return Stats{}, err
		}
	}

	pool.Shutdown()
	bar.Close()

	if firstErr != nil {
		return Stats{}, firstErr
	}

	shardDirs := make([]string, 0, len(shardByIdx))
	idxs := make([]int, 0, len(shardByIdx))
	for i := range shardByIdx {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		shardDirs = append(shardDirs, shardByIdx[i])
	}

	numDocs := nextDocID - firstDocID
	log.Infof("flushed %d shards, %d documents", len(shardDirs), numDocs)

	if err := mergeGlobalLexicon(shardDirs, outDir); err != nil {
		return Stats{}, fmt.Errorf("builder: global lexicon merge: %w", err)
	}

	totalDocLen := uint64(atomic.LoadInt64(&docLenSum))
	if err := writeMetadata(outDir, totalDocLen, numDocs); err != nil {
		return Stats{}, fmt.Errorf("builder: write metadata: %w", err)
	}

	avgdl := 0.0
	if numDocs > 0 {
		avgdl = float64(totalDocLen) / float64(numDocs)
	}
	var sigmaBar progressBar
	if b.opts.Progress != nil {
		sigmaBar = newSigmaBar(b.opts.Progress, len(shardDirs))
	}
	if err := runSigmaPass(ctx, outDir, shardDirs, numDocs, avgdl, sigmaBar); err != nil {
		return Stats{}, fmt.Errorf("builder: sigma pass: %w", err)
	}
	sigmaBar.Close()

	return Stats{
		NumShards:   len(shardDirs),
		NumDocs:     numDocs,
		TotalDocLen: totalDocLen,
		Elapsed:     time.Since(start),
	}, nil
}

func shardDir(outDir string, idx int) string {
	return filepath.Join(outDir, fmt.Sprintf("db_%d", idx))
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// atomicWriteFile writes data to a uuid-named scratch file alongside path,
// then renames it into place: a crash or concurrent build mid-write never
// leaves a half-written global_lexicon or metadata file at path, since
// rename is atomic within a filesystem.
func atomicWriteFile(path string, data []byte) error {
	scratch := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(scratch, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", scratch, err)
	}
	if err := os.Rename(scratch, path); err != nil {
		os.Remove(scratch)
		return fmt.Errorf("rename %s to %s: %w", scratch, path, err)
	}
	return nil
}
