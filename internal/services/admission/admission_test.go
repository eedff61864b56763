package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/storagetest"
)

const paidUser = 42

func setupController(t *testing.T, capacity int) (*Controller, *cache.Cache) {
	t.Helper()
	snap := storagetest.Fixture()
	snap.Users[1] = models.User{ID: 1, DailyCount: 4, LastResetDate: "2026-10-15"}
	c := cache.New(storagetest.NewMemory(snap), sl.Discard(), cache.Options{
		Now: func() time.Time { return time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC) },
	})
	svc := subscription.NewService(c, sl.Discard(), subscription.Options{FreeDailyLimit: 5})
	return New(svc, sl.Discard(), capacity, 50), c
}

func TestAdmit_QuotaRejectedWithoutSlot(t *testing.T) {
	ctrl, _ := setupController(t, 1)
	ctx := context.Background()

	ticket, err := ctrl.Admit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ctrl.InFlight())

	_, err = ctrl.Admit(ctx, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 1, ctrl.InFlight(), "отказ по квоте не занимает слот")

	require.NoError(t, ticket.Done(ctx, true))
	assert.Equal(t, 0, ctrl.InFlight())
}

func TestAdmit_BlocksWhenFull(t *testing.T) {
	ctrl, _ := setupController(t, 2)
	ctx := context.Background()

	first, err := ctrl.Admit(ctx, paidUser)
	require.NoError(t, err)
	_, err = ctrl.Admit(ctx, paidUser)
	require.NoError(t, err)

	admitted := make(chan *Ticket)
	go func() {
		ticket, err := ctrl.Admit(ctx, paidUser)
		assert.NoError(t, err)
		admitted <- ticket
	}()

	select {
	case <-admitted:
		t.Fatal("третья загрузка не должна пройти, пока слоты заняты")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Done(ctx, true))
	select {
	case ticket := <-admitted:
		require.NotNil(t, ticket)
	case <-time.After(time.Second):
		t.Fatal("освободившийся слот должен достаться ожидающей загрузке")
	}
	assert.Equal(t, 2, ctrl.InFlight())
}

func TestAdmit_CancelWhileWaitingReleasesReservation(t *testing.T) {
	ctrl, _ := setupController(t, 1)

	holder, err := ctrl.Admit(context.Background(), paidUser)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ctrl.Admit(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, holder.Done(context.Background(), true))

	ticket, err := ctrl.Admit(context.Background(), 1)
	require.NoError(t, err, "резерв отменённой загрузки возвращён в квоту")
	require.NoError(t, ticket.Done(context.Background(), false))
}

func TestAdmit_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	ctrl, _ := setupController(t, capacity)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := ctrl.Admit(ctx, paidUser)
			if !assert.NoError(t, err) {
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			assert.NoError(t, ticket.Done(ctx, true))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.Equal(t, 0, ctrl.InFlight())
}

func TestTicket_CheckSize(t *testing.T) {
	ctrl, _ := setupController(t, 1)
	ticket, err := ctrl.Admit(context.Background(), paidUser)
	require.NoError(t, err)
	defer func() { _ = ticket.Done(context.Background(), false) }()

	assert.NoError(t, ticket.CheckSize(49.9))
	assert.NoError(t, ticket.CheckSize(50))
	assert.ErrorIs(t, ticket.CheckSize(50.1), ErrTooLarge)
}

func TestTicket_DoneCommitsOnce(t *testing.T) {
	ctrl, c := setupController(t, 1)
	ctx := context.Background()

	ticket, err := ctrl.Admit(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ticket.Paid())

	require.NoError(t, ticket.Done(ctx, true))
	require.NoError(t, ticket.Done(ctx, true))
	assert.Equal(t, 0, ctrl.InFlight())

	u, err := c.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, u.DailyCount)
}

func TestTicket_FailureDoesNotCount(t *testing.T) {
	ctrl, c := setupController(t, 1)
	ctx := context.Background()

	ticket, err := ctrl.Admit(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, ticket.Done(ctx, false))

	u, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, u.DailyCount)
}
