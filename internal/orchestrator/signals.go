package orchestrator

// SignalSource delivers external control signals, for example from files
// dropped into a signals directory.
type SignalSource interface {
	// Cancelled is closed or receives a value when the run should be cancelled.
	Cancelled() <-chan struct{}
	// PauseChanges receives true on pause and false on resume.
	PauseChanges() <-chan bool
}

// watchSignals bridges a signal source to the coordinator until done closes.
func (c *Coordinator) watchSignals(src SignalSource, done <-chan struct{}) {
	cancelled := src.Cancelled()
	pauses := src.PauseChanges()
	for {
		select {
		case <-done:
			return
		case _, ok := <-cancelled:
			if !ok {
				cancelled = nil
			}
			c.logger.Log("[signals] cancel signal received")
			c.Cancel()
		case paused, ok := <-pauses:
			if !ok {
				pauses = nil
				continue
			}
			if paused {
				c.Pause()
			} else {
				c.Resume()
			}
		}
	}
}
