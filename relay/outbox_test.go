package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func frames(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestOutbox_FIFO(t *testing.T) {
	o := NewOutbox(4)
	for _, f := range []string{"a", "b", "c"} {
		accepted, dropped := o.Push([]byte(f))
		require.True(t, accepted)
		require.False(t, dropped)
	}
	require.Equal(t, 3, o.Len())

	select {
	case <-o.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	require.Equal(t, frames("a", "b", "c"), o.Drain())
	require.Nil(t, o.Drain())
}

func TestOutbox_DropsOldestOnOverflow(t *testing.T) {
	o := NewOutbox(3)
	for _, f := range []string{"1", "2", "3"} {
		o.Push([]byte(f))
	}
	accepted, dropped := o.Push([]byte("4"))
	require.True(t, accepted)
	require.True(t, dropped)
	_, dropped = o.Push([]byte("5"))
	require.True(t, dropped)

	require.Equal(t, frames("3", "4", "5"), o.Drain())

	// Wrap-around after a drain keeps order.
	for _, f := range []string{"6", "7", "8", "9"} {
		o.Push([]byte(f))
	}
	require.Equal(t, frames("7", "8", "9"), o.Drain())
}

func TestOutbox_Close(t *testing.T) {
	o := NewOutbox(2)
	o.Push([]byte("a"))
	o.Close()
	o.Close()

	require.True(t, o.Closed())
	require.Equal(t, 0, o.Len())
	accepted, _ := o.Push([]byte("b"))
	require.False(t, accepted)
	require.Nil(t, o.Drain())
}
