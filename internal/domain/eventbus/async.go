package eventbus

import (
	"sync"

	evbus "github.com/asaskevich/EventBus"

	"github.com/Lucke514/ImageConverter/internal/platform/logging"
)

const defaultQueueSize = 1024

// AsyncEventBus publishes events from a queue drained by worker goroutines.
// With a single worker, events reach subscribers in publish order.
type AsyncEventBus struct {
	bus       evbus.Bus
	logger    *logging.Logger
	workerNum int
	workChan  chan asyncEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	pending   sync.WaitGroup
}

type asyncEvent struct {
	topic string
	args  []interface{}
}

// NewAsyncEventBus creates a bus; workerNum <= 0 means one worker.
func NewAsyncEventBus(workerNum int, logger *logging.Logger) *AsyncEventBus {
	if workerNum <= 0 {
		workerNum = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &AsyncEventBus{
		bus:       New(),
		logger:    logger,
		workerNum: workerNum,
		workChan:  make(chan asyncEvent, defaultQueueSize),
		stopChan:  make(chan struct{}),
	}
}

func (aeb *AsyncEventBus) Start() {
	for i := 0; i < aeb.workerNum; i++ {
		aeb.wg.Add(1)
		go aeb.worker()
	}
}

// Stop drains nothing further and waits for the workers to exit.
func (aeb *AsyncEventBus) Stop() {
	aeb.stopOnce.Do(func() { close(aeb.stopChan) })
	aeb.wg.Wait()
}

func (aeb *AsyncEventBus) worker() {
	defer aeb.wg.Done()

	for {
		select {
		case <-aeb.stopChan:
			return
		case event := <-aeb.workChan:
			aeb.dispatch(event)
		}
	}
}

func (aeb *AsyncEventBus) dispatch(event asyncEvent) {
	defer aeb.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			aeb.logger.ErrorTag("BATCH", "event handler for %s panicked: %v", event.topic, r)
		}
	}()
	aeb.bus.Publish(event.topic, event.args...)
}

// Publish delivers synchronously on the caller's goroutine.
func (aeb *AsyncEventBus) Publish(topic string, args ...interface{}) {
	aeb.bus.Publish(topic, args...)
}

// PublishAsync queues the event. When the queue is full the event is dropped.
func (aeb *AsyncEventBus) PublishAsync(topic string, args ...interface{}) {
	aeb.pending.Add(1)
	select {
	case aeb.workChan <- asyncEvent{topic: topic, args: args}:
	default:
		aeb.pending.Done()
		aeb.logger.WarnTag("BATCH", "event queue full, dropped %s", topic)
	}
}

func (aeb *AsyncEventBus) Subscribe(topic string, fn interface{}) error {
	return aeb.bus.Subscribe(topic, fn)
}

func (aeb *AsyncEventBus) Unsubscribe(topic string, handler interface{}) error {
	return aeb.bus.Unsubscribe(topic, handler)
}

func (aeb *AsyncEventBus) HasCallback(topic string) bool {
	return aeb.bus.HasCallback(topic)
}

// WaitAsync blocks until every queued event has been delivered.
func (aeb *AsyncEventBus) WaitAsync() {
	aeb.pending.Wait()
}
