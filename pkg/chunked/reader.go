// Package chunked implements the push-driven lazy byte input that bridges
// the dispatcher (producer) to a worker task (consumer) for an in-flight
// multi-frame payload.
package chunked

import (
	"io"
	"sync"
)

// Reader is a single-producer, single-consumer byte source. The producer
// calls Push for each decoded chunk and terminates the stream with either
// PushEOF or PushErr. The consumer calls Read, which blocks until a chunk,
// EOF, or error is available — the suspension point a worker task blocks
// on while the dispatcher keeps running on its own goroutine.
//
// Chunks pushed before a consumer attaches are queued; nothing is dropped.
type Reader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	chunks  [][]byte
	cur     []byte // unconsumed tail of curOrig
	curOrig []byte // full chunk cur was sliced from, for release
	eof     bool
	err     error

	// release, when set, is called once for every chunk that is fully
	// drained by Read — this is where a buffer pool reclaims the memory
	// backing a received frame.
	release func(chunk []byte)
}

// NewReader returns an empty Reader. release, if non-nil, is invoked with
// each chunk once Read has fully consumed it.
func NewReader(release func(chunk []byte)) *Reader {
	r := &Reader{release: release}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends chunk to the stream. chunk must not be mutated by the
// caller afterwards; ownership passes to the Reader until it is drained.
func (r *Reader) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eof || r.err != nil {
		return
	}
	r.chunks = append(r.chunks, chunk)
	r.cond.Signal()
}

// PushEOF marks the stream complete. Further Push calls are ignored.
func (r *Reader) PushEOF() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eof || r.err != nil {
		return
	}
	r.eof = true
	r.cond.Signal()
}

// PushErr terminates the stream with err. Chunks already queued are still
// returned by Read; once they are drained, any blocked or future Read
// returns err. Further Push calls are ignored.
func (r *Reader) PushErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eof || r.err != nil {
		return
	}
	r.err = err
	r.cond.Signal()
}

// Read blocks until at least one byte is available, the stream has
// reached EOF (io.EOF), or it was terminated with an error. It implements
// io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.cur == nil && len(r.chunks) == 0 && !r.eof && r.err == nil {
		r.cond.Wait()
	}

	if r.cur == nil {
		if len(r.chunks) > 0 {
			r.curOrig = r.chunks[0]
			r.cur = r.curOrig
			r.chunks = r.chunks[1:]
		} else if r.err != nil {
			return 0, r.err
		} else if r.eof {
			return 0, io.EOF
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	if len(r.cur) == 0 {
		drained := r.curOrig
		r.cur = nil
		r.curOrig = nil
		if r.release != nil {
			r.release(drained)
		}
	}
	return n, nil
}
