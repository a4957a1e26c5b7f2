package utils

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_DrainFeed(t *testing.T) {
	const N = 1 << 10
	const K = 1 << 4

	ctx := context.Background()
	queue := NewQueue[[][]byte](1024, time.Second, 64)

	for k := 0; k < K; k++ {
		go func(k int) {
			i := uint64(k) << 32
			for n := uint64(0); n < N; n++ {
				var b [8]byte
				binary.LittleEndian.PutUint64(b[:], i|n)
				assert.Nil(t, queue.Drain(ctx, [][]byte{b[:]}))
			}
		}(k)
	}

	check := [K]int{}
	for i := 0; i < N*K; {
		nums, err := queue.Feed(ctx)
		assert.Nil(t, err)
		for _, num := range nums {
			assert.Equal(t, 8, len(num))
			j := binary.LittleEndian.Uint64(num)
			k := int(j >> 32)
			n := int(j & 0xffffffff)
			assert.Equal(t, check[k], n)
			check[k] = n + 1
			i++
		}
	}
	assert.Equal(t, 0, queue.Size())

	assert.Nil(t, queue.Close())
	assert.Equal(t, ErrClosed, queue.Drain(ctx, [][]byte{{'a'}}))
	_, err := queue.Feed(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestQueue_FeedAfterClose(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[[][]byte](16, time.Millisecond, 1)
	assert.Nil(t, queue.Drain(ctx, [][]byte{[]byte("first"), []byte("second")}))
	assert.Nil(t, queue.Close())

	recs, err := queue.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, [][]byte{[]byte("first")}, recs)
	recs, err = queue.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, [][]byte{[]byte("second")}, recs)
	_, err = queue.Feed(ctx)
	assert.Equal(t, ErrClosed, err)
}

func TestQueue_Overflow(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue[[][]byte](4, time.Millisecond*10, 1)
	assert.Nil(t, queue.Drain(ctx, [][]byte{[]byte("oversized record")}))
	assert.Equal(t, ErrOverflow, queue.Drain(ctx, [][]byte{[]byte("next")}))
	assert.Equal(t, ErrOverflow, queue.Drain(ctx, [][]byte{[]byte("x")}))

	recs, err := queue.Feed(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(recs))

	empty := NewQueue[[][]byte](4, time.Millisecond, 1)
	recs, err = empty.Feed(ctx)
	assert.Nil(t, err)
	assert.Empty(t, recs)
}
