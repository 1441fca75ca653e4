// Package replica implements the replicated, delta-tracked object model.
package replica

// Sink receives property values for display or logging.
// Push is fire-and-forget; returned errors are dropped.
type Sink interface {
	Push(key string, value any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key string, value any) error

// Push calls f.
func (f SinkFunc) Push(key string, value any) error {
	return f(key, value)
}

// Executor runs sink deliveries in the sink's own context.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

// Execute calls f.
func (f ExecutorFunc) Execute(fn func()) {
	f(fn)
}

// InlineExecutor runs deliveries on the writer's goroutine.
var InlineExecutor Executor = ExecutorFunc(func(fn func()) { fn() })

// GoExecutor runs each delivery on a new goroutine.
var GoExecutor Executor = ExecutorFunc(func(fn func()) { go fn() })

type sinkBinding struct {
	sink     Sink
	executor Executor
}
