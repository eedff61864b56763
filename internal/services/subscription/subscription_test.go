package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/terabox-bot/internal/cache"
	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/models"
	"github.com/magabrotheeeer/terabox-bot/internal/storage"
	"github.com/magabrotheeeer/terabox-bot/internal/storage/storagetest"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func setupService(t *testing.T, snap *models.Snapshot, opts Options) (*Service, *cache.Cache, *storagetest.Memory) {
	t.Helper()
	store := storagetest.NewMemory(snap)
	c := cache.New(store, sl.Discard(), cache.Options{
		Now: func() time.Time { return testNow },
	})
	if opts.FreeDailyLimit == 0 {
		opts.FreeDailyLimit = 5
	}
	return NewService(c, sl.Discard(), opts), c, store
}

func TestIsActive(t *testing.T) {
	tests := []struct {
		name string
		user models.User
		want bool
	}{
		{name: "бесплатный пользователь", user: models.User{}, want: false},
		{name: "бессрочная подписка", user: models.User{IsPaid: true}, want: true},
		{
			name: "подписка действует",
			user: models.User{IsPaid: true, PaidUntil: models.NewExpiry(testNow.Add(time.Second))},
			want: true,
		},
		{
			name: "подписка истекла",
			user: models.User{IsPaid: true, PaidUntil: models.NewExpiry(testNow.Add(-time.Second))},
			want: false,
		},
		{
			name: "окончание ровно сейчас",
			user: models.User{IsPaid: true, PaidUntil: models.NewExpiry(testNow)},
			want: false,
		},
		{
			name: "нераспознанная дата",
			user: models.User{IsPaid: true, PaidUntil: models.ParseExpiry("garbage")},
			want: true,
		},
		{
			name: "дата без флага оплаты",
			user: models.User{PaidUntil: models.NewExpiry(testNow.AddDate(0, 0, 1))},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsActive(tt.user, testNow))
		})
	}
}

func TestRedeem(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		token     string
		userID    int64
		wantErr   error
		wantDays  int
		wantUntil *time.Time
	}{
		{
			name:      "новый пользователь",
			token:     "FREE1",
			userID:    1,
			wantDays:  1,
			wantUntil: ptr(testNow.AddDate(0, 0, 1)),
		},
		{
			name:      "токен в нижнем регистре",
			token:     " free1 ",
			userID:    1,
			wantDays:  1,
			wantUntil: ptr(testNow.AddDate(0, 0, 1)),
		},
		{
			name:    "ключ не существует",
			token:   "NOPE",
			userID:  1,
			wantErr: ErrKeyNotFound,
		},
		{
			name:    "ключ уже использован",
			token:   "ABC123",
			userID:  1,
			wantErr: ErrKeyAlreadyUsed,
		},
		{
			name:      "продление действующей подписки",
			token:     "FREE1",
			userID:    42,
			wantDays:  1,
			wantUntil: ptr(testNow.AddDate(0, 0, 31)),
		},
		{
			name:      "сброс срока при ResetOnRedeem",
			opts:      Options{ResetOnRedeem: true},
			token:     "FREE1",
			userID:    42,
			wantDays:  1,
			wantUntil: ptr(testNow.AddDate(0, 0, 1)),
		},
		{
			name:      "нераспознанная дата заменяется",
			token:     "FREE1",
			userID:    99,
			wantDays:  1,
			wantUntil: ptr(testNow.AddDate(0, 0, 1)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, c, _ := setupService(t, storagetest.Fixture(), tt.opts)
			ctx := context.Background()

			days, err := svc.Redeem(ctx, tt.token, tt.userID)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, days)

			u, err := c.GetUser(ctx, tt.userID)
			require.NoError(t, err)
			assert.True(t, u.IsPaid)
			require.NotNil(t, u.PaidUntil)
			assert.False(t, u.PaidUntil.Malformed())
			assert.True(t, tt.wantUntil.Equal(u.PaidUntil.Time), "paid_until = %s", u.PaidUntil)

			k, found, err := c.GetKey(ctx, "FREE1")
			require.NoError(t, err)
			require.True(t, found)
			require.NotNil(t, k.RedeemedBy)
			assert.Equal(t, tt.userID, *k.RedeemedBy)
			require.NotNil(t, k.RedeemedAt)
			assert.True(t, testNow.Equal(*k.RedeemedAt))
		})
	}
}

func TestRedeem_UnlimitedStaysUnlimited(t *testing.T) {
	snap := storagetest.Fixture()
	snap.Users[5] = models.User{ID: 5, IsPaid: true, LastResetDate: "2026-10-15"}
	svc, c, _ := setupService(t, snap, Options{})

	_, err := svc.Redeem(context.Background(), "FREE1", 5)
	require.NoError(t, err)

	u, err := c.GetUser(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, u.IsPaid)
	assert.Nil(t, u.PaidUntil)
}

func TestRedeem_Concurrent(t *testing.T) {
	svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	const attempts = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []int64
		used      int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := svc.Redeem(ctx, "FREE1", userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, userID)
			case assert.ErrorIs(t, err, ErrKeyAlreadyUsed):
				used++
			}
		}(int64(1000 + i))
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, attempts-1, used)

	k, _, err := c.GetKey(ctx, "FREE1")
	require.NoError(t, err)
	assert.Equal(t, successes[0], *k.RedeemedBy)
}

func TestRedeem_StoreFailure(t *testing.T) {
	svc, _, store := setupService(t, storagetest.Fixture(), Options{})
	store.FailGet(1)

	_, err := svc.Redeem(context.Background(), "FREE1", 1)
	assert.ErrorIs(t, err, storage.ErrStorage)
}

func TestRecordDownload(t *testing.T) {
	svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	require.NoError(t, svc.RecordDownload(ctx, 7))
	u, err := c.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, u.DailyCount, "счётчик прошлого дня обнуляется перед инкрементом")
	assert.Equal(t, "2026-10-15", u.LastResetDate)

	require.NoError(t, svc.RecordDownload(ctx, 7))
	u, err = c.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, u.DailyCount)
}

func TestResetAllDailyCounts_Idempotent(t *testing.T) {
	svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	n, err := svc.ResetAllDailyCounts(ctx, "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = svc.ResetAllDailyCounts(ctx, "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	u, err := c.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailyCount)
}

func TestReserve_Strict(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{ID: 1, DailyCount: 4, LastResetDate: "2026-10-15"}
	svc, c, _ := setupService(t, snap, Options{})
	ctx := context.Background()

	first, err := svc.Reserve(ctx, 1)
	require.NoError(t, err)
	assert.False(t, first.Paid())

	_, err = svc.Reserve(ctx, 1)
	require.ErrorIs(t, err, ErrQuotaExceeded, "незавершённая загрузка занимает последнее место в квоте")

	require.NoError(t, first.Commit(ctx))
	assert.Equal(t, 0, svc.Pending(1))

	u, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, u.DailyCount)

	_, err = svc.Reserve(ctx, 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestReserve_StrictConcurrent(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{ID: 1, DailyCount: 4, LastResetDate: "2026-10-15"}
	svc, _, _ := setupService(t, snap, Options{})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Reserve(ctx, 1); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, admitted)
}

func TestReserve_ReleaseReturnsQuota(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{ID: 1, DailyCount: 4, LastResetDate: "2026-10-15"}
	svc, c, _ := setupService(t, snap, Options{})
	ctx := context.Background()

	res, err := svc.Reserve(ctx, 1)
	require.NoError(t, err)
	res.Release()
	res.Release()
	assert.Equal(t, 0, svc.Pending(1))

	res, err = svc.Reserve(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))
	require.NoError(t, res.Commit(ctx))
	res.Release()

	u, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, u.DailyCount, "повторный Commit не учитывает загрузку дважды")
}

func TestReserve_Relaxed(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{ID: 1, DailyCount: 4, LastResetDate: "2026-10-15"}
	svc, c, _ := setupService(t, snap, Options{RelaxedQuota: true})
	ctx := context.Background()

	first, err := svc.Reserve(ctx, 1)
	require.NoError(t, err)
	second, err := svc.Reserve(ctx, 1)
	require.NoError(t, err, "без учёта незавершённых загрузок оба запроса проходят")

	require.NoError(t, first.Commit(ctx))
	require.NoError(t, second.Commit(ctx))

	u, err := c.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, u.DailyCount)
}

func TestReserve_PaidUser(t *testing.T) {
	svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := svc.Reserve(ctx, 42)
		require.NoError(t, err)
		assert.True(t, res.Paid())
		require.NoError(t, res.Commit(ctx))
	}

	u, err := c.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailyCount)
}

func TestReserve_NormalizesStaleCount(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{ID: 1, DailyCount: 5, LastResetDate: "2026-10-14"}
	svc, _, _ := setupService(t, snap, Options{})

	res, err := svc.Reserve(context.Background(), 1)
	require.NoError(t, err)
	res.Release()
}

func TestReserve_ExpiredSubscriptionUsesQuota(t *testing.T) {
	snap := models.NewSnapshot()
	snap.Users[1] = models.User{
		ID:            1,
		IsPaid:        true,
		PaidUntil:     models.NewExpiry(testNow.Add(-time.Hour)),
		DailyCount:    5,
		LastResetDate: "2026-10-15",
	}
	svc, _, _ := setupService(t, snap, Options{})

	_, err := svc.Reserve(context.Background(), 1)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestIssueKey(t *testing.T) {
	tokens := []string{"ABC123", "NEWKEY000001"}
	opts := Options{NewToken: func() string {
		token := tokens[0]
		tokens = tokens[1:]
		return token
	}}
	svc, c, _ := setupService(t, storagetest.Fixture(), opts)
	ctx := context.Background()

	key, err := svc.IssueKey(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, "NEWKEY000001", key.Token, "совпадение с существующим токеном приводит к повторной генерации")
	assert.Equal(t, 30, key.DurationDays)
	assert.False(t, key.Redeemed())

	stored, found, err := c.GetKey(ctx, "NEWKEY000001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, key, stored)

	_, err = svc.IssueKey(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestListKeys(t *testing.T) {
	svc, _, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	_, err := svc.IssueKey(ctx, 7)
	require.NoError(t, err)

	keys, err := svc.ListKeys(ctx, 0)
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "ABC123", keys[0].Token)
	assert.Equal(t, "FREE1", keys[1].Token)
	assert.Equal(t, 7, keys[2].DurationDays)

	keys, err = svc.ListKeys(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestDeleteKey(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "неактивированный ключ", token: "free1"},
		{name: "активированный ключ", token: "ABC123", wantErr: ErrKeyRedeemed},
		{name: "несуществующий ключ", token: "NOPE", wantErr: ErrKeyNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
			ctx := context.Background()

			err := svc.DeleteKey(ctx, tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			_, found, err := c.GetKey(ctx, "FREE1")
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestGrantAndRevokeUser(t *testing.T) {
	svc, c, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	u, err := svc.GrantUser(ctx, 7, 30)
	require.NoError(t, err)
	assert.True(t, IsActive(u, testNow))
	assert.True(t, testNow.AddDate(0, 0, 30).Equal(u.PaidUntil.Time))

	u, err = svc.RevokeUser(ctx, 7)
	require.NoError(t, err)
	assert.False(t, u.IsPaid)
	assert.Nil(t, u.PaidUntil)

	stored, err := c.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, u, stored)
	assert.Equal(t, 3, stored.DailyCount, "отзыв не трогает счётчик")

	_, err = svc.GrantUser(ctx, 7, -1)
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestStatus(t *testing.T) {
	svc, _, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	st, err := svc.Status(ctx, 42)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.False(t, st.Unlimited)
	assert.Equal(t, 30, st.DaysLeft)

	st, err = svc.Status(ctx, 7)
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, 5, st.RemainingFree, "вчерашние загрузки не уменьшают сегодняшний остаток")

	st, err = svc.Status(ctx, 99)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.True(t, st.Unlimited)
}

func TestEnsureUserAndUserIDs(t *testing.T) {
	svc, _, _ := setupService(t, storagetest.Fixture(), Options{})
	ctx := context.Background()

	u, err := svc.EnsureUser(ctx, 500, "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, "2026-10-15", u.LastResetDate)

	u, err = svc.EnsureUser(ctx, 42, "", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username, "пустое имя не затирает сохранённое")

	ids, err := svc.UserIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 42, 99, 500}, ids)
}

func ptr(t time.Time) *time.Time {
	return &t
}
