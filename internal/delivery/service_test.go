package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/cache"
	"github.com/noah-isme/backend-flora/internal/delivery"
)

type stubSource struct {
	info     delivery.Info
	infoErr  error
	postcode delivery.PostcodeResult
	pcErr    error
	calls    atomic.Int32
	gate     chan struct{}
}

func (s *stubSource) DeliveryInfo(ctx context.Context) (delivery.Info, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.info, s.infoErr
}

func (s *stubSource) ValidatePostcode(ctx context.Context, postcode string) (delivery.PostcodeResult, error) {
	return s.postcode, s.pcErr
}

func newCache(t *testing.T) *cache.JSON {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewJSON(client, "flora:delivery:", time.Minute)
}

func TestInfoFallsBackToDefaults(t *testing.T) {
	svc := &delivery.Service{Source: &stubSource{infoErr: errors.New("503")}}
	info := svc.Info(context.Background())
	require.True(t, info.Fallback)
	require.EqualValues(t, 899, info.Standard.Fee)
	require.EqualValues(t, 1599, info.Express.Fee)
}

func TestInfoIsCached(t *testing.T) {
	src := &stubSource{info: delivery.Info{
		Standard: delivery.Tier{Fee: 700, Timeframe: "2-4 days"},
		Express:  delivery.Tier{Fee: 1200, Timeframe: "next day"},
	}}
	svc := &delivery.Service{Source: src, Cache: newCache(t)}

	first := svc.Info(context.Background())
	second := svc.Info(context.Background())
	require.EqualValues(t, 700, first.Standard.Fee)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, src.calls.Load())
}

func TestInfoCoalescesConcurrentMisses(t *testing.T) {
	src := &stubSource{info: delivery.DefaultInfo, gate: make(chan struct{})}
	svc := &delivery.Service{Source: src}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Info(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()
	require.Less(t, src.calls.Load(), int32(5))
}

func TestCheckPostcodeFailsOpen(t *testing.T) {
	svc := &delivery.Service{Source: &stubSource{pcErr: errors.New("timeout")}}
	res, err := svc.CheckPostcode(context.Background(), " sw1a  1aa ")
	require.NoError(t, err)
	require.True(t, res.Available)
	require.True(t, res.Unverified)
	require.Equal(t, "SW1A 1AA", res.Postcode)
}

func TestCheckPostcodeUnavailable(t *testing.T) {
	svc := &delivery.Service{Source: &stubSource{postcode: delivery.PostcodeResult{Available: false, Message: "outside delivery area"}}}
	res, err := svc.CheckPostcode(context.Background(), "ZZ1 1ZZ")
	require.NoError(t, err)
	require.False(t, res.Available)
	require.Equal(t, "outside delivery area", res.Message)

	_, err = svc.CheckPostcode(context.Background(), "  ")
	require.ErrorIs(t, err, delivery.ErrPostcodeRequired)
}
