package session

import "sync"

// pending holds the newest move not yet handed to the persist worker. A
// newer move replaces an older one that has not started.
type pending struct {
	mu    sync.Mutex
	job   persistJob
	ok    bool
	ready chan struct{}
}

func newPending() *pending {
	return &pending{ready: make(chan struct{}, 1)}
}

func (p *pending) put(job persistJob) {
	p.mu.Lock()
	p.job, p.ok = job, true
	p.mu.Unlock()
	select {
	case p.ready <- struct{}{}:
	default:
	}
}

func (p *pending) take() (persistJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.job, p.ok
	p.job, p.ok = persistJob{}, false
	return job, ok
}
