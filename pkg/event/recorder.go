package event

// Recorder accumulates events raised by an aggregate until the surrounding
// unit of work captures them. Embed it in aggregates.
type Recorder struct {
	pending []Event
}

// Record queues an event.
func (r *Recorder) Record(evt Event) {
	if evt == nil {
		return
	}
	r.pending = append(r.pending, evt)
}

// Pull returns the queued events and clears the queue.
func (r *Recorder) Pull() []Event {
	out := r.pending
	r.pending = nil
	return out
}

// Pending reports how many events are queued.
func (r *Recorder) Pending() int {
	return len(r.pending)
}
