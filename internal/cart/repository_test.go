package cart

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-flora/internal/pricing"
)

func newRedisRepo(t *testing.T) (*miniredis.Miniredis, *RedisRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, &RedisRepository{R: client, TTL: time.Hour}
}

func TestRedisRepositoryRoundTrip(t *testing.T) {
	mr, repo := newRedisRepo(t)
	r := testReducer()
	ctx := context.Background()

	date := time.Date(2024, 5, 10, 14, 0, 0, 0, time.UTC)
	c := mustApply(t, r, Cart{},
		AddItem{Product: roses(), Quantity: 1, DeliveryDate: &date},
		AddItem{Product: peonies(), Quantity: 2, Mode: pricing.ModeRecurring, Frequency: pricing.Weekly},
		SetGiftMessage{Message: GiftMessage{To: "Ana", From: "Leo", Body: "Thinking of you"}},
	)
	require.NoError(t, repo.Save(ctx, "s1", c))
	require.True(t, mr.Exists("flora:cart:s1:state"))
	require.True(t, mr.Exists("flora:cart:s1:gift"))
	require.Equal(t, time.Hour, mr.TTL("flora:cart:s1:state"))

	stored, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	reloaded := mustApply(t, r, Cart{}, Load{Items: stored.Items, GiftMessage: stored.GiftMessage})

	opts := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	if diff := cmp.Diff(c, reloaded, opts); diff != "" {
		t.Fatalf("reloaded cart differs (-want +got):\n%s", diff)
	}
}

func TestRedisRepositoryRemovesEmptyGiftMessage(t *testing.T) {
	mr, repo := newRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "s1", Cart{GiftMessage: &GiftMessage{To: "A"}}))
	require.True(t, mr.Exists("flora:cart:s1:gift"))

	require.NoError(t, repo.Save(ctx, "s1", Cart{}))
	require.False(t, mr.Exists("flora:cart:s1:gift"))
	state, err := mr.Get("flora:cart:s1:state")
	require.NoError(t, err)
	require.Equal(t, "[]", state)
}

func TestRedisRepositoryMalformedPayloadLoadsEmpty(t *testing.T) {
	mr, repo := newRedisRepo(t)
	require.NoError(t, mr.Set("flora:cart:s1:state", "{not json"))
	require.NoError(t, mr.Set("flora:cart:s1:gift", "42"))

	c, err := repo.Load(context.Background(), "s1")
	require.NoError(t, err)
	require.Empty(t, c.Items)
	require.Nil(t, c.GiftMessage)
}

func TestRedisRepositoryMissingSession(t *testing.T) {
	_, repo := newRedisRepo(t)
	c, err := repo.Load(context.Background(), "unknown")
	require.NoError(t, err)
	require.True(t, c.IsEmpty())

	_, err = repo.Load(context.Background(), " ")
	require.ErrorIs(t, err, ErrSessionRequired)
}

func TestRedisRepositoryCustomPrefix(t *testing.T) {
	mr, repo := newRedisRepo(t)
	repo.Prefix = "staging"
	require.NoError(t, repo.Save(context.Background(), "s1", Cart{}))
	require.True(t, mr.Exists("staging:cart:s1:state"))
}

func TestMemoryRepositoryIsolatesCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	c := Cart{Items: []LineItem{{ID: "a", Product: roses(), Quantity: 1}}, GiftMessage: &GiftMessage{To: "A"}}
	require.NoError(t, repo.Save(ctx, "s1", c))

	c.Items[0].Quantity = 99
	c.GiftMessage.To = "B"

	stored, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, stored.Items[0].Quantity)
	require.Equal(t, "A", stored.GiftMessage.To)
}
