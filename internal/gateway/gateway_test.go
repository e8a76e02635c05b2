package gateway

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGatewayDispatch(t *testing.T) {
	gw := New(0)
	gw.Start(context.Background())
	defer gw.Stop()

	done := make(chan struct{})
	err := gw.Dispatch(1, "hello", func(ctx context.Context) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatched job did not run")
	}
}

func TestGatewayDispatchOnError(t *testing.T) {
	gw := New(2)
	gw.Start(context.Background())
	defer gw.Stop()

	reported := make(chan error, 1)
	err := gw.Dispatch(1, "broken", func(ctx context.Context) error {
		return errors.New("store unavailable")
	}, WithOnError(func(err error) { reported <- err }))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-reported:
		if err.Error() != "store unavailable" {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected OnError to be called")
	}
}

func TestGatewayStopCancelsJobContext(t *testing.T) {
	gw := New(1)
	gw.Start(context.Background())

	started := make(chan struct{})
	finished := make(chan error, 1)
	gw.Dispatch(1, "long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		finished <- ctx.Err()
		return nil
	})

	<-started
	gw.Stop()

	select {
	case err := <-finished:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected canceled context, got %v", err)
		}
	default:
		t.Fatal("expected Stop to wait for the running job")
	}
}
