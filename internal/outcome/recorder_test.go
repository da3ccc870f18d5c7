package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
)

type captureSink struct {
	mu       sync.Mutex
	appended []models.AttemptOutcome
	err      error
}

func (s *captureSink) Append(_ context.Context, o models.AttemptOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, o)
	return s.err
}

func (s *captureSink) all() []models.AttemptOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AttemptOutcome(nil), s.appended...)
}

func TestAsyncRecorderDeliversInOrder(t *testing.T) {
	sink := &captureSink{}
	r := NewAsyncRecorder(sink, nil)

	for i, status := range []string{models.StatusError, models.StatusSuccess} {
		r.Record(context.Background(), models.AttemptOutcome{
			RequestID: "req-1", UserID: 1, ProductID: 2,
			Status: status, Terminal: i == 1, CreatedAt: time.Now(),
		})
	}
	r.Close()

	got := sink.all()
	require.Len(t, got, 2)
	require.Equal(t, models.StatusError, got[0].Status)
	require.Equal(t, models.StatusSuccess, got[1].Status)
	require.True(t, got[1].Terminal)
}

func TestAsyncRecorderSurvivesSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("db down")}
	r := NewAsyncRecorder(sink, nil)

	r.Record(context.Background(), models.AttemptOutcome{RequestID: "req-2", Status: models.StatusRateLimited})
	r.Close()

	require.Len(t, sink.all(), 1, "a failing sink must not stop recording")
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &captureSink{err: errors.New("first fails")}
	b := &captureSink{}
	m := MultiSink{a, b}

	err := m.Append(context.Background(), models.AttemptOutcome{Status: models.StatusSuccess})
	require.Error(t, err)
	require.Len(t, a.all(), 1)
	require.Len(t, b.all(), 1, "later sinks still run after an earlier failure")
}

func TestLogSinkNeverFails(t *testing.T) {
	acct := 4
	err := LogSink{}.Append(context.Background(), models.AttemptOutcome{
		RequestID: "req-3", AccountID: &acct, Status: models.StatusNotFound,
	})
	require.NoError(t, err)
}
