package media

// ring is a fixed-capacity FIFO of samples. It is not safe for concurrent
// use; [stream] guards it with its mutex.
type ring struct {
	buf  []int16
	head int // next read index
	size int
}

func newRing(capacity int) ring {
	return ring{buf: make([]int16, max(capacity, 1))}
}

func (r *ring) len() int  { return r.size }
func (r *ring) free() int { return len(r.buf) - r.size }

func (r *ring) reset() {
	r.head = 0
	r.size = 0
}

// write appends as much of p as fits and returns the count written.
func (r *ring) write(p []int16) int {
	n := min(len(p), r.free())
	tail := (r.head + r.size) % len(r.buf)
	first := min(n, len(r.buf)-tail)
	copy(r.buf[tail:], p[:first])
	copy(r.buf, p[first:n])
	r.size += n
	return n
}

// read moves up to len(p) samples into p and returns the count read.
func (r *ring) read(p []int16) int {
	n := min(len(p), r.size)
	first := min(n, len(r.buf)-r.head)
	copy(p, r.buf[r.head:r.head+first])
	copy(p[first:n], r.buf)
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return n
}
