package acquire

// Buffer is fixed-capacity storage for one block of samples. It is
// allocated once and refilled in place; a fill that stops early leaves the
// tail holding whatever the previous fill wrote.
type Buffer struct {
	samples []complex64
	filled  int
}

// NewBuffer allocates a buffer of capacity n.
func NewBuffer(n int) *Buffer {
	return &Buffer{samples: make([]complex64, n)}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.samples) }

// Filled returns how many leading samples the last fill wrote.
func (b *Buffer) Filled() int { return b.filled }

// Full reports whether the last fill reached capacity.
func (b *Buffer) Full() bool { return b.filled == len(b.samples) }

// Samples returns the whole backing slice, stale tail included.
func (b *Buffer) Samples() []complex64 { return b.samples }

// Valid returns the samples written by the last fill.
func (b *Buffer) Valid() []complex64 { return b.samples[:b.filled] }

// Stale returns the tail not written by the last fill.
func (b *Buffer) Stale() []complex64 { return b.samples[b.filled:] }

// Reset clears the contents and the fill count.
func (b *Buffer) Reset() {
	for i := range b.samples {
		b.samples[i] = 0
	}
	b.filled = 0
}

// SetFilled records that the first n samples hold current data. It is used
// when something other than Fill writes the buffer, such as a filter.
func (b *Buffer) SetFilled(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(b.samples) {
		n = len(b.samples)
	}
	b.filled = n
}
