package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"variantcore/pkg/domain"
)

type cursor[T domain.Document] struct {
	coll *collection[T]
	raw  RawCursor
	cur  T
	err  error
	stop func()
	once sync.Once
}

func (c *cursor[T]) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.raw.Next() {
		c.err = c.raw.Err()
		return false
	}
	doc, err := c.coll.decode(c.raw.Doc())
	if err != nil {
		c.err = err
		return false
	}
	c.cur = doc
	return true
}

func (c *cursor[T]) Value() T { return c.cur }

func (c *cursor[T]) Err() error { return c.err }

func (c *cursor[T]) Close() error {
	var err error
	c.once.Do(func() {
		c.stop()
		err = c.raw.Close()
	})
	return err
}

// startKeepAlive pings the backend every interval until the returned stop
// function is called, keeping the server session of a long-lived cursor open.
func startKeepAlive(parent context.Context, interval time.Duration, ping func(context.Context) error, logger logrus.FieldLogger) func() {
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ping(ctx); err != nil && ctx.Err() == nil {
					logger.WithError(err).Warn("cursor session keep-alive failed")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
