// Package outcome records attempt outcomes for OTP retrieval requests.
// Recording is fire-and-forget: a sink failure is logged and never reaches
// the response path.
package outcome

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
)

// Recorder receives a structured record of every attempt, success or
// failure. Implementations must never block the caller or panic into it.
type Recorder interface {
	Record(ctx context.Context, o models.AttemptOutcome)
}

// Sink persists outcomes. Errors are swallowed by the recorder.
type Sink interface {
	Append(ctx context.Context, o models.AttemptOutcome) error
}

// AsyncRecorder queues outcomes to a sink on a background worker. When the
// queue is full the outcome is dropped rather than blocking a request.
type AsyncRecorder struct {
	sink    Sink
	queue   chan models.AttemptOutcome
	logger  *log.Logger
	once    sync.Once
	done    chan struct{}
	timeout time.Duration
}

// NewAsyncRecorder starts the recording worker.
func NewAsyncRecorder(sink Sink, logger *log.Logger) *AsyncRecorder {
	if logger == nil {
		logger = log.Default()
	}
	r := &AsyncRecorder{
		sink:    sink,
		queue:   make(chan models.AttemptOutcome, 256),
		logger:  logger,
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go r.run()
	return r
}

// Record enqueues one outcome. Never blocks.
func (r *AsyncRecorder) Record(_ context.Context, o models.AttemptOutcome) {
	select {
	case r.queue <- o:
	default:
		r.logger.Printf("outcome: queue full, dropped %s for request %s", o.Status, o.RequestID)
	}
}

// Close drains the queue and stops the worker.
func (r *AsyncRecorder) Close() {
	r.once.Do(func() {
		close(r.queue)
		<-r.done
	})
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for o := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Append(ctx, o); err != nil {
			r.logger.Printf("outcome: append failed: %v", err)
		}
		cancel()
	}
}

// LogSink writes outcomes as structured log lines. Decrypted values never
// appear in outcomes, so logging them whole is safe.
type LogSink struct {
	Logger *log.Logger
}

// Append writes one outcome line.
func (s LogSink) Append(_ context.Context, o models.AttemptOutcome) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	account := "-"
	if o.AccountID != nil {
		account = strconv.Itoa(*o.AccountID)
	}
	logger.Printf("outcome request=%s user=%d product=%d account=%s status=%s terminal=%t detail=%q",
		o.RequestID, o.UserID, o.ProductID, account, o.Status, o.Terminal, o.Detail)
	return nil
}

// MultiSink fans an outcome out to several sinks; the first error is
// returned after all sinks ran.
type MultiSink []Sink

// Append writes the outcome to every sink.
func (m MultiSink) Append(ctx context.Context, o models.AttemptOutcome) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, o); err != nil && first == nil {
			first = err
		}
	}
	return first
}
