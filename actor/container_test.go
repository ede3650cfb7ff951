package actor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vactorio/vactor/id"
)

func TestContainerObtainIsSingleton(t *testing.T) {
	c := NewContainer("T", 10, counterSpec(), nil)
	w1, err := c.Obtain(id.New("T", "a"))
	require.NoError(t, err)
	w2, err := c.Obtain(id.New("T", "a"))
	require.NoError(t, err)
	require.Same(t, w1, w2)
}

func TestContainerEvictsOldestUnderCapacity(t *testing.T) {
	c := NewContainer("T", 1, counterSpec(), nil)
	w1, err := c.Obtain(id.New("T", "1"))
	require.NoError(t, err)
	_, aerr := w1.Invoke(context.Background(), "c1", "inc", nil)
	require.Nil(t, aerr)

	for i := 2; i <= 11; i++ {
		_, err := c.Obtain(id.New("T", itoa(i)))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return c.NumActivated() <= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return !w1.IsActive() }, time.Second, 5*time.Millisecond)
}

func TestContainerFinalizeRejectsNewCreations(t *testing.T) {
	c := NewContainer("T", 10, counterSpec(), nil)
	_, err := c.Obtain(id.New("T", "1"))
	require.NoError(t, err)
	require.NoError(t, c.Finalize(context.Background()))

	_, err = c.Obtain(id.New("T", "2"))
	require.Error(t, err)
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
