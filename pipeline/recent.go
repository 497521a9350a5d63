package pipeline

import "go.viam.com/netft/wrench"

// recentSamples keeps the last few raw samples, oldest first.
type recentSamples struct {
	buf   []wrench.Wrench
	next  int
	count int
}

func newRecentSamples(size int) *recentSamples {
	if size < 1 {
		size = 1
	}
	return &recentSamples{buf: make([]wrench.Wrench, size)}
}

func (r *recentSamples) add(w wrench.Wrench) {
	r.buf[r.next] = w
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// last returns up to n of the most recent samples, oldest first.
func (r *recentSamples) last(n int) []wrench.Wrench {
	if n > r.count {
		n = r.count
	}
	out := make([]wrench.Wrench, n)
	start := (r.next - n + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *recentSamples) capacity() int {
	return len(r.buf)
}
