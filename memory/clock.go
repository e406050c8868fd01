package memory

// clock is the store-owned logical clock. Readings are turn indices, never
// wall-clock time, so replaying a call sequence reproduces identical
// created_at values.
type clock struct {
	turn int64
}

func (c *clock) now() int64 { return c.turn }

func (c *clock) advance() int64 {
	c.turn++
	return c.turn
}
