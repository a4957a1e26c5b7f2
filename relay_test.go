package tally

import (
	"context"
	"testing"
	"time"

	"github.com/drpcorg/tally/val"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRelay(t *testing.T) {
	producer := PayloadProducerSettings()
	basic := BasicSearchSettings()
	worker := createCops(t, testFactory(t, true), SearchRequest{
		FieldIndex:    accessIndex(),
		Requests:      []ResultRequest{{ComponentID: "t", Table: hostPathTable()}},
		StoreSettings: &producer,
	})
	coordinator := createCops(t, testFactory(t, false), SearchRequest{
		FieldIndex:    accessIndex(),
		Requests:      []ResultRequest{{ComponentID: "t", Table: hostPathTable()}},
		StoreSettings: &basic,
	})

	relay := NewPayloadRelay(worker, 10*time.Millisecond, 1<<20, testLog)
	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	merged := make(chan error, 1)
	go func() { ran <- relay.Run(ctx) }()
	go func() { merged <- relay.MergeInto(context.Background(), coordinator) }()

	for i := 0; i < 50; i++ {
		worker.Receive(accessRow("a", "/x", 1, 200, 1, int64(i)))
		if i%10 == 0 {
			time.Sleep(15 * time.Millisecond)
		}
	}
	worker.Receive(accessRow("b", "/y", 1, 200, 1, 100))
	cancel()
	assert.NoError(t, <-ran)
	assert.NoError(t, <-merged)

	tc, err := coordinator.TableFor("t")
	require.NoError(t, err)
	hosts := tc.Store().Children(RootKey(), 0, 10)
	require.Len(t, hosts, 2)
	assert.Equal(t, val.Val(val.Long(50)), hosts[0].Value(2))
	assert.Equal(t, val.Val(val.Long(1)), hosts[1].Value(2))
	assert.Equal(t, 0, relay.Queued())
}

func TestPayloadRelay_Flush(t *testing.T) {
	producer := PayloadProducerSettings()
	worker := createCops(t, testFactory(t, true), SearchRequest{
		FieldIndex:    accessIndex(),
		Requests:      []ResultRequest{{ComponentID: "t", Table: hostPathTable()}},
		StoreSettings: &producer,
	})
	relay := NewPayloadRelay(worker, time.Second, 1<<20, testLog)
	ctx := context.Background()
	require.NoError(t, relay.Flush(ctx))
	assert.Equal(t, 0, relay.Queued())
	worker.Receive(accessRow("a", "/x", 1, 200, 1, 1))
	require.NoError(t, relay.Flush(ctx))
	assert.Greater(t, relay.Queued(), 0)
}
