package protocol

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sliceFeeder struct {
	batches []Records
}

func (f *sliceFeeder) Feed(ctx context.Context) (Records, error) {
	if len(f.batches) == 0 {
		return nil, io.EOF
	}
	recs := f.batches[0]
	f.batches = f.batches[1:]
	if len(f.batches) == 0 {
		return recs, io.EOF
	}
	return recs, nil
}

func TestPump(t *testing.T) {
	feeder := &sliceFeeder{batches: []Records{
		{[]byte("a"), []byte("bc")},
		nil,
		{[]byte("def")},
	}}
	var got Records
	err := Pump(context.Background(), feeder, DrainFunc(func(ctx context.Context, recs Records) error {
		got = append(got, recs...)
		return nil
	}))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, Records{[]byte("a"), []byte("bc"), []byte("def")}, got)
	assert.EqualValues(t, 6, got.TotalLen())
}

func TestPumpDrainError(t *testing.T) {
	bad := errors.New("full")
	feeder := &sliceFeeder{batches: []Records{{[]byte("a")}, {[]byte("b")}}}
	calls := 0
	err := Pump(context.Background(), feeder, DrainFunc(func(ctx context.Context, recs Records) error {
		calls++
		return bad
	}))
	assert.ErrorIs(t, err, bad)
	assert.Equal(t, 1, calls)
	assert.Len(t, feeder.batches, 1)
}

func TestPumpCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	feeder := &sliceFeeder{batches: []Records{{[]byte("a")}, {[]byte("b")}, {[]byte("c")}}}
	err := Pump(ctx, feeder, DrainFunc(func(ctx context.Context, recs Records) error { return nil }))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, feeder.batches, 2)
}
