package workqueue

// ConcurrencyStrategy decides which pending tasks may start. Implementations
// are called with the queue's lock held and must not block.
type ConcurrencyStrategy interface {
	// CanStart reports whether a task with the given key may start now.
	CanStart(key string) bool

	// OnStart records that a task with the given key started.
	OnStart(key string)

	// OnComplete records that a task with the given key finished.
	OnComplete(key string)
}

// BoundedStrategy limits total concurrency to maxWorkers and serializes
// tasks that share a key. The pipeline keys tasks by document ID, so two
// workers never advance the same document at once while distinct documents
// still run in parallel.
type BoundedStrategy struct {
	maxWorkers int
	running    int
	activeKeys map[string]struct{}
}

// NewBoundedStrategy creates a strategy allowing up to maxWorkers concurrent
// tasks. maxWorkers < 1 is treated as 1.
func NewBoundedStrategy(maxWorkers int) *BoundedStrategy {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &BoundedStrategy{
		maxWorkers: maxWorkers,
		activeKeys: make(map[string]struct{}),
	}
}

var _ ConcurrencyStrategy = (*BoundedStrategy)(nil)

// CanStart reports whether a task with the given key may start.
func (s *BoundedStrategy) CanStart(key string) bool {
	if s.running >= s.maxWorkers {
		return false
	}
	_, active := s.activeKeys[key]
	return !active
}

// OnStart records a task start.
func (s *BoundedStrategy) OnStart(key string) {
	s.running++
	s.activeKeys[key] = struct{}{}
}

// OnComplete records a task completion.
func (s *BoundedStrategy) OnComplete(key string) {
	s.running--
	delete(s.activeKeys, key)
}
