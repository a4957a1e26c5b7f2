package protocol

import "context"

// Feeder yields record batches. An empty batch with a nil error means
// nothing arrived in time; the caller may simply ask again.
type Feeder interface {
	Feed(ctx context.Context) (recs Records, err error)
}

type Drainer interface {
	Drain(ctx context.Context, recs Records) error
}

// DrainFunc lets a plain function consume batches.
type DrainFunc func(ctx context.Context, recs Records) error

func (f DrainFunc) Drain(ctx context.Context, recs Records) error {
	return f(ctx, recs)
}

// Pump moves batches from feeder to drainer until either side fails or
// ctx is done. A batch fed together with an error is still drained.
func Pump(ctx context.Context, feeder Feeder, drainer Drainer) error {
	for {
		recs, err := feeder.Feed(ctx)
		if len(recs) > 0 {
			if derr := drainer.Drain(ctx, recs); derr != nil {
				return derr
			}
		}
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
	}
}
