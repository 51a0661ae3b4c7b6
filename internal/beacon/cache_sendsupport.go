package beacon

// HasRemainingData reports whether key still has live or pending
// fragments waiting to be drained. Unlike IsEmpty, this also considers
// the pending portion of an in-progress chunked drain, so a multi-chunk
// send() loop knows to keep calling GetNextBeaconChunk.
func (c *Cache) HasRemainingData(key Key) bool {
	e, ok := c.get(key)
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.eventData) > 0 || len(e.actionData) > 0 || len(e.pending) > 0
}
