package zmqsub

import (
	"context"
	"testing"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/require"

	watchercfg "github.com/Chigala/bitcoin-pay/internal/config/watcher"
	logimpl "github.com/Chigala/bitcoin-pay/internal/core/infrastructure/log"
)

func testMsg(body []byte) zmq4.Msg {
	return zmq4.Msg{Frames: [][]byte{body}}
}

func TestRun_InertConfigClosesImmediately(t *testing.T) {
	sub := New(watchercfg.ZMQConfig{}, logimpl.NewNop())
	err := sub.Run(context.Background())
	require.NoError(t, err)

	_, open := <-sub.Events()
	require.False(t, open, "events channel must be closed for an inert subscriber")
}

func TestReverseBytes(t *testing.T) {
	in := []byte{0x01, 0x02, 0x03, 0x04}
	out := reverseBytes(in)
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, out)
	// Input must not be mutated.
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, in)
}

func TestDispatch_RawTopicsPassThroughBody(t *testing.T) {
	sub := New(watchercfg.ZMQConfig{HashTxPort: 1}, logimpl.NewNop())
	sub.dispatch(topicRawTx, testMsg([]byte{0xde, 0xad, 0xbe, 0xef}))

	ev, ok := sub.queue.pop()
	require.True(t, ok)
	require.Equal(t, topicRawTx, ev.Kind)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, ev.Raw)
}

func TestDispatch_HashTopicsReverseAndHex(t *testing.T) {
	sub := New(watchercfg.ZMQConfig{HashTxPort: 1}, logimpl.NewNop())
	sub.dispatch(topicHashTx, testMsg([]byte{0x01, 0x02, 0x03}))

	ev, ok := sub.queue.pop()
	require.True(t, ok)
	require.Equal(t, topicHashTx, ev.Kind)
	require.Equal(t, "030201", ev.Hash)
}

func TestDispatch_NeverDropsUnderBackpressure(t *testing.T) {
	sub := New(watchercfg.ZMQConfig{HashTxPort: 1}, logimpl.NewNop())
	// No consumer draining sub.events: a bounded/dropping implementation
	// would lose events past its buffer size, this one must not.
	for i := 0; i < 1000; i++ {
		sub.dispatch(topicRawTx, testMsg([]byte{byte(i)}))
	}
	for i := 0; i < 1000; i++ {
		ev, ok := sub.queue.pop()
		require.True(t, ok)
		require.Equal(t, []byte{byte(i)}, ev.Raw)
	}
}
