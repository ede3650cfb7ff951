package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vactorio/vactor/wire"
)

// Each test gets its own appIDs to avoid colliding with the process-wide
// defaultRouter used by other tests in this package.

func TestLoopbackSendDeliversToReceiver(t *testing.T) {
	lb1, lb2 := NewLoopback(), NewLoopback()

	var mu sync.Mutex
	var got wire.Envelope
	done := make(chan struct{})
	_, err := lb1.Connect(context.Background(), "t1-app1", func(env wire.Envelope) {
		mu.Lock()
		got = env
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	sess2, err := lb2.Connect(context.Background(), "t1-app2", func(wire.Envelope) {})
	require.NoError(t, err)

	require.NoError(t, sess2.Send(context.Background(), wire.Envelope{
		Receiver: "t1-app1",
		CallID:   "c1",
		Kind:     wire.KindReturn,
		Return:   &wire.ReturnBody{},
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "t1-app1", got.Receiver)
	require.Equal(t, "c1", got.CallID)
}

func TestLoopbackSendToUnknownReceiverSynthesizesReturn(t *testing.T) {
	lb1, lb2 := NewLoopback(), NewLoopback()

	var mu sync.Mutex
	var got wire.Envelope
	done := make(chan struct{})
	_, err := lb1.Connect(context.Background(), "t2-caller", func(env wire.Envelope) {
		mu.Lock()
		got = env
		mu.Unlock()
		close(done)
	})
	require.NoError(t, err)

	sess1, err := lb1.Connect(context.Background(), "t2-caller-sender", func(wire.Envelope) {})
	require.NoError(t, err)
	_ = lb2

	require.NoError(t, sess1.Send(context.Background(), wire.Envelope{
		Receiver:      "t2-nobody",
		ReturnAddress: "t2-caller",
		CallID:        "c2",
		Kind:          wire.KindCall,
		Call:          &wire.CallBody{},
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("synthetic return was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "UNKNOWN_RECEIVER", got.FailureCode)
	require.Equal(t, wire.KindReturn, got.Kind)
	require.Equal(t, "c2", got.CallID)
}

func TestLoopbackConnectRejectsDuplicateAppID(t *testing.T) {
	lb := NewLoopback()
	sess, err := lb.Connect(context.Background(), "t3-dup", func(wire.Envelope) {})
	require.NoError(t, err)
	defer sess.Close()

	_, err = lb.Connect(context.Background(), "t3-dup", func(wire.Envelope) {})
	require.Error(t, err)
}

func TestLoopbackCloseFreesAppIDForReconnect(t *testing.T) {
	lb := NewLoopback()
	sess, err := lb.Connect(context.Background(), "t4-app", func(wire.Envelope) {})
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = lb.Connect(context.Background(), "t4-app", func(wire.Envelope) {})
	require.NoError(t, err)
}
