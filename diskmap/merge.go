package diskmap

import (
	"bytes"
	"io"
)

// Source is one input to a k-way merge: an iterator over a disk-map keyed
// on strings, yielding values of type In.
type Source[In any] struct {
	It *Iterator[In]
}

// Merge streams a k-way union of sources into a freshly built disk-map,
// applying transform to narrow each source's value to the output type,
// then (when more than one source holds the same key) applying merge to
// combine the transformed values. Sources are consumed and dropped as they
// are exhausted.
func Merge[In, Out any](
	out *Writer[Out],
	sources []Source[In],
	transform func(In) Out,
	merge func(key []byte, values []Out) Out,
) error {
	active := make([]*Iterator[In], 0, len(sources))
	for _, s := range sources {
		if s.It != nil && !s.It.Done() {
			active = append(active, s.It)
		}
	}

	for len(active) > 0 {
		minKey := active[0].Key()
		for _, it := range active[1:] {
			if bytes.Compare(it.Key(), minKey) < 0 {
				minKey = it.Key()
			}
		}

		var values []Out
		remaining := active[:0]
		for _, it := range active {
			if bytes.Equal(it.Key(), minKey) {
				values = append(values, transform(it.Value()))
				if it.Next() {
					remaining = append(remaining, it)
				}
			} else {
				remaining = append(remaining, it)
			}
		}
		active = remaining

		var v Out
		if len(values) == 1 {
			v = values[0]
		} else {
			v = merge(minKey, values)
		}
		if err := out.Add(minKey, v); err != nil {
			return err
		}
	}
	return nil
}

// MergeToWriter is a convenience wrapper that finalizes out to w after the
// merge completes.
func MergeToWriter[In, Out any](
	w io.Writer,
	out *Writer[Out],
	sources []Source[In],
	transform func(In) Out,
	merge func(key []byte, values []Out) Out,
) error {
	if err := Merge(out, sources, transform, merge); err != nil {
		return err
	}
	return out.Finalize(w)
}
