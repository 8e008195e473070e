package builder

import (
	"runtime"

	logging "github.com/ipfs/go-log/v2"
	"github.com/vbauerster/mpb/v8"

	"github.com/rpcpool/mircv/tokenizer"
)

// MaxChunkSpace is the byte budget (summed pid+text bytes) a chunk may
// accumulate before the producer flushes it to a worker.
const MaxChunkSpace = 675_000_000

var log = logging.Logger("mircv/builder")

// Options configures a Builder. The zero value is usable: it defaults to
// one worker per CPU, the package-level MaxChunkSpace, no docno-heap
// compression, and tokenizer.Default.
type Options struct {
	// NumWorkers is the chunk-worker pool size. 0 selects
	// runtime.NumCPU().
	NumWorkers int
	// MaxChunkSpace overrides the default chunk byte budget. 0 selects
	// the package-level constant.
	MaxChunkSpace int64
	// CompressDocnos enables the optional zstd-compressed docno heap
	// variant (--compress-docnos).
	CompressDocnos bool
	// Tokenizer normalizes each document's text into terms. nil selects
	// tokenizer.Default{}.
	Tokenizer tokenizer.Tokenizer
	// Progress, if non-nil, receives chunk-flush and sigma-pass progress
	// bars.
	Progress *mpb.Progress
}

func (o Options) numWorkers() int {
	if o.NumWorkers > 0 {
		return o.NumWorkers
	}
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return n
}

func (o Options) maxChunkSpace() int64 {
	if o.MaxChunkSpace > 0 {
		return o.MaxChunkSpace
	}
	return MaxChunkSpace
}

func (o Options) tokenizer() tokenizer.Tokenizer {
	if o.Tokenizer != nil {
		return o.Tokenizer
	}
	return tokenizer.Default{}
}
