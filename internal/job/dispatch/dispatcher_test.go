package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	body        []byte
	contentType string
	delayed     bool
	delay       time.Duration
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{body: body, contentType: contentType})
	return nil
}

func (p *fakePublisher) PublishDelayed(_ context.Context, body []byte, contentType string, delay time.Duration) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{body: body, contentType: contentType, delayed: true, delay: delay})
	return nil
}

func newTestDispatcher(publisher *fakePublisher) *Dispatcher {
	return New(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSchedule(t *testing.T) {
	publisher := &fakePublisher{}
	d := newTestDispatcher(publisher)

	err := d.Schedule(context.Background(), "job-123", 0)

	require.NoError(t, err)
	require.Len(t, publisher.published, 1)

	msg := publisher.published[0]
	assert.False(t, msg.delayed)
	assert.Equal(t, "application/json", msg.contentType)

	var decoded Message
	require.NoError(t, json.Unmarshal(msg.body, &decoded))
	assert.Equal(t, "job-123", decoded.JobID)
}

func TestSchedule_Delayed(t *testing.T) {
	publisher := &fakePublisher{}
	d := newTestDispatcher(publisher)

	err := d.Schedule(context.Background(), "job-123", 30*time.Second)

	require.NoError(t, err)
	require.Len(t, publisher.published, 1)
	assert.True(t, publisher.published[0].delayed)
	assert.Equal(t, 30*time.Second, publisher.published[0].delay)
}

func TestSchedule_PublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("channel closed")}
	d := newTestDispatcher(publisher)

	err := d.Schedule(context.Background(), "job-123", 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "job-123")
	assert.Contains(t, err.Error(), "channel closed")
}
