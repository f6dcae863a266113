package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu        sync.Mutex
	published map[string][]interface{}
	ch        chan []byte
	closed    bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: map[string][]interface{}{}, ch: make(chan []byte, 10)}
}

func (f *fakeBroker) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], message)
	return nil
}

func (f *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return f.ch, nil
}

func (f *fakeBroker) Close() error {
	f.closed = true
	return nil
}

func TestBrokerAdapterPublishPassesBytesThrough(t *testing.T) {
	b := newFakeBroker()
	a := NewBrokerAdapter(b, nil)

	require.NoError(t, a.Publish(context.Background(), "notifications", []byte(`{"type":"all"}`)))
	assert.Equal(t, []interface{}{[]byte(`{"type":"all"}`)}, b.published["notifications"])
}

func TestBrokerAdapterSubscribeSkipsHandlerErrors(t *testing.T) {
	b := newFakeBroker()
	a := NewBrokerAdapter(b, nil)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	err := a.Subscribe(context.Background(), "notifications", func(p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(p))
		if string(p) == "bad" {
			return errors.New("bad payload")
		}
		if len(got) == 2 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)

	b.ch <- []byte("bad")
	b.ch <- []byte("good")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}
	mu.Lock()
	assert.Equal(t, []string{"bad", "good"}, got)
	mu.Unlock()

	require.NoError(t, a.Close())
	assert.True(t, b.closed)
}
