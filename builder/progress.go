package builder

import (
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar wraps an *mpb.Bar that may be nil (when the caller supplied
// no Options.Progress), so every call site can report progress
// unconditionally instead of nil-checking at every call.
type progressBar struct {
	bar *mpb.Bar
}

func newChunkBar(p *mpb.Progress) progressBar {
	bar := p.AddBar(0,
		mpb.PrependDecorators(decor.Name("build")),
		mpb.AppendDecorators(decor.CurrentNoUnit("%d docs")),
	)
	return progressBar{bar: bar}
}

func newSigmaBar(p *mpb.Progress, totalShards int) progressBar {
	bar := p.AddBar(int64(totalShards),
		mpb.PrependDecorators(decor.Name("sigma pass")),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d shards")),
	)
	return progressBar{bar: bar}
}

func (b progressBar) Increment(n int) {
	if b.bar == nil {
		return
	}
	b.bar.IncrBy(n)
}

// Close marks the bar complete so a Progress.Wait() call doesn't block on
// a bar whose total was never known up front (chunk counts aren't known
// until the input stream is exhausted).
func (b progressBar) Close() {
	if b.bar == nil {
		return
	}
	b.bar.SetTotal(b.bar.Current(), true)
}
