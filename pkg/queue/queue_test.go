package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alert struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

func TestParsePayload(t *testing.T) {
	raw := json.RawMessage(`{"id":"a1","score":42.5}`)
	got, err := ParsePayload[alert](raw)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)

	got, err = ParsePayload[alert](map[string]interface{}{"id": "a2", "score": 1.0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Score)

	v := alert{ID: "a3"}
	got, err = ParsePayload[alert](&v)
	require.NoError(t, err)
	assert.Same(t, &v, got)

	_, err = ParsePayload[alert](42)
	assert.Error(t, err)
	_, err = ParsePayload[alert](json.RawMessage(`{`))
	assert.Error(t, err)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	base, max := time.Second, 10*time.Second
	assert.Equal(t, time.Second, RetryDelay(base, max, 0))
	assert.Equal(t, time.Second, RetryDelay(base, max, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(base, max, 2))
	assert.Equal(t, 8*time.Second, RetryDelay(base, max, 4))
	assert.Equal(t, max, RetryDelay(base, max, 5))
	assert.Equal(t, max, RetryDelay(base, max, 60))
}

func TestDispatchOutcomes(t *testing.T) {
	q := NewRedisQueue(nil, Config{RetryLimit: 2})
	calls := 0
	q.RegisterJob(JobFunc{JobName: "flaky", JobType: "flaky", Fn: func(_ context.Context, p interface{}) error {
		calls++
		a, err := ParsePayload[alert](p)
		if err != nil {
			return err
		}
		if a.ID == "bad" {
			return errors.New("endpoint down")
		}
		return nil
	}})

	ok := &Message{ID: "1", Type: "flaky", Payload: json.RawMessage(`{"id":"good"}`)}
	assert.Equal(t, outcomeDone, q.dispatch(ok))
	assert.Zero(t, ok.Attempts)

	bad := &Message{ID: "2", Type: "flaky", Payload: json.RawMessage(`{"id":"bad"}`)}
	assert.Equal(t, outcomeRetry, q.dispatch(bad))
	assert.Equal(t, outcomeRetry, q.dispatch(bad))
	assert.Equal(t, outcomeDead, q.dispatch(bad))
	assert.Equal(t, 3, bad.Attempts)
	assert.Equal(t, "endpoint down", bad.LastError)
	assert.Equal(t, 4, calls)

	unknown := &Message{ID: "3", Type: "nope"}
	assert.Equal(t, outcomeDead, q.dispatch(unknown))
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	q := NewRedisQueue(nil, Config{RetryLimit: 5})
	q.RegisterJob(JobFunc{JobName: "strict", JobType: "strict", Fn: func(context.Context, interface{}) error {
		return Permanent(errors.New("rejected"))
	}})

	msg := &Message{ID: "p", Type: "strict", Payload: json.RawMessage(`{}`)}
	assert.Equal(t, outcomeDead, q.dispatch(msg))
	assert.Equal(t, 1, msg.Attempts)
	assert.Equal(t, "rejected", msg.LastError)

	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("plain")))
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	q := NewRedisQueue(nil, Config{})
	err := q.Enqueue(context.Background(), "missing", alert{})
	assert.Error(t, err)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	q := NewRedisQueue(nil, Config{})
	assert.NoError(t, q.Stop(context.Background()))
}
