package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthonian/aura-gateway/internal/config"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []*azservicebus.Message
	err    error
	closed bool
}

func (f *fakeSender) SendMessage(ctx context.Context, m *azservicebus.Message, _ *azservicebus.SendMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

type fakeReceiver struct {
	batches chan []*azservicebus.ReceivedMessage
	errs    chan error

	mu         sync.Mutex
	maxAsked   []int
	completed  []string
	abandoned  []string
	deadLetter []string
	closed     bool
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{
		batches: make(chan []*azservicebus.ReceivedMessage, 16),
		errs:    make(chan error, 16),
	}
}

func (f *fakeReceiver) ReceiveMessages(ctx context.Context, max int, _ *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error) {
	f.mu.Lock()
	f.maxAsked = append(f.maxAsked, max)
	f.mu.Unlock()

	select {
	case b := <-f.batches:
		return b, nil
	case err := <-f.errs:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeReceiver) CompleteMessage(ctx context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.CompleteMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, m.MessageID)
	return nil
}

func (f *fakeReceiver) AbandonMessage(ctx context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.AbandonMessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, m.MessageID)
	return nil
}

func (f *fakeReceiver) DeadLetterMessage(ctx context.Context, m *azservicebus.ReceivedMessage, _ *azservicebus.DeadLetterOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetter = append(f.deadLetter, m.MessageID)
	return nil
}

func (f *fakeReceiver) Close(ctx context.Context) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeReceiver) settled() (completed, abandoned, dead []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...),
		append([]string(nil), f.abandoned...),
		append([]string(nil), f.deadLetter...)
}

func TestServiceBus_Send(t *testing.T) {
	sender := &fakeSender{}
	sb := newServiceBus(sender, newFakeReceiver(), Options{}, nil)

	require.NoError(t, sb.Send(context.Background(), []byte(`{"op":0,"d":{},"s":1,"t":"READY"}`)))

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, `{"op":0,"d":{},"s":1,"t":"READY"}`, string(msg.Body))
	require.NotNil(t, msg.MessageID)
	assert.NotEmpty(t, *msg.MessageID)
	require.NotNil(t, msg.ContentType)
	assert.Equal(t, "application/json", *msg.ContentType)
	assert.Equal(t, int64(1), sb.Stats().Sent)
}

func TestServiceBus_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("link detached")}
	sb := newServiceBus(sender, newFakeReceiver(), Options{}, nil)

	err := sb.Send(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link detached")
	assert.Equal(t, int64(1), sb.Stats().SendErrors)
}

func TestServiceBus_SubscribeSettles(t *testing.T) {
	recv := newFakeReceiver()
	sb := newServiceBus(&fakeSender{}, recv, Options{MaxDeliveries: 3}, nil)

	runSubscribe(t, sb, func(ctx context.Context, msg Message) bool {
		return string(msg.Body) == "ok"
	})

	recv.batches <- []*azservicebus.ReceivedMessage{
		{MessageID: "m1", Body: []byte("ok"), DeliveryCount: 1},
		{MessageID: "m2", Body: []byte("bad"), DeliveryCount: 1},
		{MessageID: "m3", Body: []byte("bad"), DeliveryCount: 3},
	}

	require.Eventually(t, func() bool {
		c, a, d := recv.settled()
		return len(c)+len(a)+len(d) == 3
	}, time.Second, 5*time.Millisecond)

	completed, abandoned, dead := recv.settled()
	assert.Equal(t, []string{"m1"}, completed)
	assert.Equal(t, []string{"m2"}, abandoned)
	assert.Equal(t, []string{"m3"}, dead)

	st := sb.Stats()
	assert.Equal(t, int64(3), st.Received)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.Abandoned)
	assert.Equal(t, int64(1), st.DeadLettered)
}

func TestServiceBus_ReceivesUpToFreeSlots(t *testing.T) {
	recv := newFakeReceiver()
	sb := newServiceBus(&fakeSender{}, recv, Options{Concurrency: 4}, nil)

	runSubscribe(t, sb, func(ctx context.Context, msg Message) bool { return true })

	require.Eventually(t, func() bool {
		recv.mu.Lock()
		defer recv.mu.Unlock()
		return len(recv.maxAsked) > 0
	}, time.Second, 5*time.Millisecond)

	recv.mu.Lock()
	assert.Equal(t, 4, recv.maxAsked[0])
	recv.mu.Unlock()
}

func TestServiceBus_ReceiveErrorRetries(t *testing.T) {
	recv := newFakeReceiver()
	sb := newServiceBus(&fakeSender{}, recv, Options{}, nil)

	got := make(chan string, 1)
	runSubscribe(t, sb, func(ctx context.Context, msg Message) bool {
		got <- msg.ID
		return true
	})

	recv.errs <- errors.New("connection lost")
	recv.batches <- []*azservicebus.ReceivedMessage{{MessageID: "after-error", Body: []byte("x"), DeliveryCount: 1}}

	select {
	case id := <-got:
		assert.Equal(t, "after-error", id)
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not recover after receive error")
	}
}

func TestServiceBus_Close(t *testing.T) {
	sender := &fakeSender{}
	recv := newFakeReceiver()
	sb := newServiceBus(sender, recv, Options{}, nil)

	require.NoError(t, sb.Close(context.Background()))
	assert.True(t, sender.closed)
	assert.True(t, recv.closed)
}

func TestNewServiceBus_RequiresCredentials(t *testing.T) {
	_, err := NewServiceBus(config.ServiceBusConfig{SenderQueue: "s", ReceiverQueue: "r"}, Options{}, nil)
	assert.Error(t, err)
}
