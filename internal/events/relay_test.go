package events_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"session-service/internal/events"
	"session-service/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeOutbox struct {
	mu        sync.Mutex
	rows      []model.OutboxEvent
	published map[uuid.UUID]bool
	failures  map[uuid.UUID]int
}

func newFakeOutbox(rows ...model.OutboxEvent) *fakeOutbox {
	return &fakeOutbox{rows: rows, published: map[uuid.UUID]bool{}, failures: map[uuid.UUID]int{}}
}

func (o *fakeOutbox) ClaimPending(_ context.Context, limit int, _ time.Duration) ([]model.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.OutboxEvent
	for _, row := range o.rows {
		if o.published[row.ID] || len(out) >= limit {
			continue
		}
		row.Attempts = o.failures[row.ID]
		out = append(out, row)
	}
	return out, nil
}

func (o *fakeOutbox) MarkPublished(_ context.Context, id uuid.UUID, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published[id] = true
	return nil
}

func (o *fakeOutbox) MarkFailed(_ context.Context, id uuid.UUID, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[id]++
	return nil
}

type sentMsg struct {
	subject string
	msgID   string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sentMsg
	fail func(subject string) error
}

func (p *fakePublisher) Publish(_ context.Context, subject, msgID string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(subject); err != nil {
			return err
		}
	}
	p.sent = append(p.sent, sentMsg{subject: subject, msgID: msgID})
	return nil
}

func outboxRow(sessionID uuid.UUID, t model.EventType) model.OutboxEvent {
	return model.OutboxEvent{
		ID:                uuid.New(),
		SessionID:         sessionID,
		EventType:         t,
		TargetTableStatus: t.TableStatus(),
		Payload:           []byte(`{}`),
		CreatedAt:         time.Now(),
	}
}

func TestRelay_PublishesInOrder(t *testing.T) {
	sid := uuid.New()
	started := outboxRow(sid, model.EventSessionStarted)
	ended := outboxRow(sid, model.EventSessionEnded)
	outbox := newFakeOutbox(started, ended)
	pub := &fakePublisher{}

	relay := events.NewRelay(outbox, pub, events.RelayConfig{BatchSize: 10, MaxAttempts: 3})
	n, err := relay.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []sentMsg{
		{subject: "session.started", msgID: started.ID.String()},
		{subject: "session.ended", msgID: ended.ID.String()},
	}, pub.sent)

	n, err = relay.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelay_FailureHoldsBackSameSessionOnly(t *testing.T) {
	s1, s2 := uuid.New(), uuid.New()
	s1Start := outboxRow(s1, model.EventSessionStarted)
	s1End := outboxRow(s1, model.EventSessionEnded)
	s2Start := outboxRow(s2, model.EventSessionStarted)
	outbox := newFakeOutbox(s1Start, s1End, s2Start)

	// Only the first publish of the first pass fails.
	down := true
	calls := 0
	pub := &fakePublisher{fail: func(string) error {
		calls++
		if down && calls == 1 {
			return errors.New("nats: connection closed")
		}
		return nil
	}}

	relay := events.NewRelay(outbox, pub, events.RelayConfig{BatchSize: 10, MaxAttempts: 5})
	n, err := relay.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []sentMsg{{subject: "session.started", msgID: s2Start.ID.String()}}, pub.sent)
	require.Equal(t, 1, outbox.failures[s1Start.ID])

	down = false
	n, err = relay.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, s1Start.ID.String(), pub.sent[1].msgID)
	require.Equal(t, s1End.ID.String(), pub.sent[2].msgID)
}

func TestRelay_DeadLettersAfterMaxAttempts(t *testing.T) {
	row := outboxRow(uuid.New(), model.EventSessionCancelled)
	outbox := newFakeOutbox(row)
	pub := &fakePublisher{fail: func(subject string) error {
		if subject == events.OutboxDLQSubject {
			return nil
		}
		return errors.New("nats: timeout")
	}}

	relay := events.NewRelay(outbox, pub, events.RelayConfig{BatchSize: 10, MaxAttempts: 2})

	_, err := relay.Tick(context.Background())
	require.NoError(t, err)
	require.Empty(t, pub.sent)
	require.False(t, outbox.published[row.ID])

	_, err = relay.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, []sentMsg{{subject: events.OutboxDLQSubject, msgID: row.ID.String()}}, pub.sent)
	require.True(t, outbox.published[row.ID])
}

func TestHub_BroadcastAndUnsubscribe(t *testing.T) {
	hub := events.NewHub()
	a, stopA := hub.Listen()
	b, stopB := hub.Listen()
	require.Equal(t, 2, hub.Listeners())

	hub.Broadcast([]byte(`{"event_type":"session:started"}`))
	require.JSONEq(t, `{"event_type":"session:started"}`, string(<-a))
	require.JSONEq(t, `{"event_type":"session:started"}`, string(<-b))

	stopA()
	stopA()
	require.Equal(t, 1, hub.Listeners())
	_, open := <-a
	require.False(t, open)

	for i := 0; i < 100; i++ {
		hub.Broadcast([]byte(`{}`))
	}
	require.Len(t, b, cap(b))
	stopB()
	require.NoError(t, hub.Close())
}
