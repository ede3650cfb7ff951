package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	msgs := [][]byte{[]byte("abc"), []byte(""), []byte("hello world")}
	frame := EncodeBatch(msgs)
	got, err := DecodeBatch(frame)
	require.NoError(t, err)
	require.Equal(t, msgs, got)
}

func TestDecodeBatchRejectsMissingHeader(t *testing.T) {
	_, err := DecodeBatch([]byte("no newline here"))
	require.Error(t, err)
}

func TestDecodeBatchRejectsTruncatedMessage(t *testing.T) {
	_, err := DecodeBatch([]byte("10\nshort"))
	require.Error(t, err)
}

func TestBatchQueueFlushesOnTimer(t *testing.T) {
	var mu sync.Mutex
	var got [][]byte
	done := make(chan struct{})

	q := NewBatchQueue(func(batch [][]byte) {
		mu.Lock()
		got = batch
		mu.Unlock()
		close(done)
	})
	q.Add([]byte("one"))
	q.Add([]byte("two"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush did not fire within the flush interval")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
}

func TestBatchQueueFlushesImmediatelyAtSizeLimit(t *testing.T) {
	flushed := make(chan [][]byte, 1)
	q := NewBatchQueue(func(batch [][]byte) {
		flushed <- batch
	})

	big := make([]byte, MaxBatchBytes)
	q.Add(big)

	select {
	case batch := <-flushed:
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("size-triggered flush did not fire")
	}
}
