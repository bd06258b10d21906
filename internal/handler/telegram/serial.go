package telegram

import (
	"sync"

	"github.com/zhouzirui/foodbot/internal/service/reservation"
)

// job is one update ready for the workflow. callbackID is set for button
// presses that still need an answer.
type job struct {
	key        string
	callbackID string
	ev         reservation.Event
	ok         bool
}

// userQueue holds one user's jobs in arrival order.
type userQueue struct {
	pending []job
}

// serializer runs jobs of the same user one after another in arrival order
// and jobs of different users concurrently. A user's worker exits once the
// queue is drained.
type serializer struct {
	run func(job)

	mu     sync.Mutex
	queues map[string]*userQueue
	wg     sync.WaitGroup
}

func newSerializer(run func(job)) *serializer {
	return &serializer{run: run, queues: make(map[string]*userQueue)}
}

// enqueue must be called from a single goroutine for arrival order to hold.
func (s *serializer) enqueue(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[j.key]; ok {
		q.pending = append(q.pending, j)
		return
	}

	q := &userQueue{pending: []job{j}}
	s.queues[j.key] = q
	s.wg.Add(1)
	go s.drain(j.key, q)
}

func (s *serializer) drain(key string, q *userQueue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		s.mu.Unlock()

		s.run(next)
	}
}

// active returns the number of users with a running worker.
func (s *serializer) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// wait blocks until every queued job has run.
func (s *serializer) wait() {
	s.wg.Wait()
}
