package service

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-bot-backend/internal/common/cache"
	"relay-bot-backend/internal/common/errors"
	settings "relay-bot-backend/internal/features/settings/models"
	"relay-bot-backend/internal/features/verification/models"
	"relay-bot-backend/internal/platform/union"
	"relay-bot-backend/internal/testutil"
)

type fakeAuthority struct {
	mu        sync.Mutex
	banned    bool
	banErr    error
	banCalls  int
	status    *union.VerifyStatus
	statusErr error
}

func (f *fakeAuthority) CheckBan(context.Context, int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.banCalls++
	return f.banned, f.banErr
}

func (f *fakeAuthority) CheckVerifyTemp(context.Context, int64) (*union.VerifyStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeAuthority) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.banCalls
}

type fakeBanner struct {
	mu     sync.Mutex
	banned []int64
}

func (f *fakeBanner) SetBanned(_ context.Context, userID int64, banned bool, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if banned {
		f.banned = append(f.banned, userID)
	}
	return nil
}

type fixture struct {
	svc       *Service
	store     *testutil.MemStore
	clock     *clock.Mock
	authority *fakeAuthority
	banner    *fakeBanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock()
	store := testutil.NewMemStore(clk)
	c := cache.New(cache.NewMemoryLocal(cache.DefaultLocalSize, cache.DefaultLocalTTL, clk), store)
	f := &fixture{store: store, clock: clk, authority: &fakeAuthority{}, banner: &fakeBanner{}}
	f.svc = NewService(c, f.authority, f.banner, clk, 0)
	return f
}

func (f *fixture) mathAnswer(t *testing.T, userID int64) int {
	t.Helper()
	raw, ok := f.store.Raw(models.PendingKey(userID))
	require.True(t, ok)
	p, err := models.DecodePending("k", raw)
	require.NoError(t, err)
	require.Equal(t, models.ChallengeMath, p.Type)
	return *p.Ans
}

func TestOffModeVerifiesImmediately(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Evaluate(context.Background(), settings.ModeOff, Input{UserID: 1, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionVerified, out.Action)
}

func TestMathChallengeCorrectAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 2, Text: "/start"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionChallengeIssued, out.Action)
	assert.Contains(t, out.Prompt, "= ?")

	ans := f.mathAnswer(t, 2)
	assert.GreaterOrEqual(t, ans, 0)
	assert.LessOrEqual(t, ans, 18)

	out, err = f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 2, Text: "  " + strconv.Itoa(ans) + "\n"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionVerified, out.Action)

	_, pending := f.store.Raw(models.PendingKey(2))
	assert.False(t, pending)
	assert.Empty(t, f.banner.banned)
}

func TestMathChallengeWrongAnswerBans(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 3, Text: "/start"})
	require.NoError(t, err)
	ans := f.mathAnswer(t, 3)

	out, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 3, Text: strconv.Itoa(ans + 1)})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, out.Action)
	assert.Equal(t, []int64{3}, f.banner.banned)

	_, pending := f.store.Raw(models.PendingKey(3))
	assert.False(t, pending)
}

func TestMathChallengeRejectsNonInteger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 4, Text: "/start"})
	require.NoError(t, err)
	ans := f.mathAnswer(t, 4)

	out, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 4, Text: strconv.Itoa(ans) + "abc"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, out.Action)
}

func TestStickerChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	out, err := f.svc.Evaluate(ctx, settings.ModeSticker, Input{UserID: 5, Text: "/start"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionChallengeIssued, out.Action)
	raw, _ := f.store.Raw(models.PendingKey(5))
	assert.JSONEq(t, `{"type":"sticker"}`, raw)

	out, err = f.svc.Evaluate(ctx, settings.ModeSticker, Input{UserID: 5, HasSticker: true})
	require.NoError(t, err)
	assert.Equal(t, models.ActionVerified, out.Action)
}

func TestStickerChallengeTextFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Evaluate(ctx, settings.ModeSticker, Input{UserID: 6, Text: "/start"})
	require.NoError(t, err)
	out, err := f.svc.Evaluate(ctx, settings.ModeSticker, Input{UserID: 6, Text: "sticker"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionFailed, out.Action)
}

func TestConcurrentMessagesConsumeChallengeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for round := 0; round < 20; round++ {
		uid := int64(100 + round)
		_, err := f.svc.Evaluate(ctx, settings.ModeSticker, Input{UserID: uid, Text: "/start"})
		require.NoError(t, err)

		inputs := []Input{
			{UserID: uid, HasSticker: true},
			{UserID: uid, Text: "hello"},
		}
		outcomes := make([]models.Action, len(inputs))
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i, in := range inputs {
			i, in := i, in
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				out, err := f.svc.Evaluate(ctx, settings.ModeSticker, in)
				assert.NoError(t, err)
				outcomes[i] = out.Action
			}()
		}
		close(start)
		wg.Wait()

		hints := 0
		for _, a := range outcomes {
			if a == models.ActionHint {
				hints++
			}
		}
		require.Equal(t, 1, hints, "round %d: %v", round, outcomes)

		f.banner.mu.Lock()
		banned := slices.Contains(f.banner.banned, uid)
		f.banner.mu.Unlock()
		if outcomes[0] == models.ActionVerified {
			assert.False(t, banned, "round %d: verified user must not be banned", round)
		} else {
			assert.Equal(t, models.ActionFailed, outcomes[1])
			assert.True(t, banned)
		}
	}
}

func TestExpiredChallengeNeedsFreshStart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 7, Text: "/start"})
	require.NoError(t, err)
	f.clock.Add(models.PendingTTL + time.Second)

	out, err := f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 7, Text: "5"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionHint, out.Action)
	assert.Empty(t, f.banner.banned)

	out, err = f.svc.Evaluate(ctx, settings.ModeMath, Input{UserID: 7, Text: "/start"})
	require.NoError(t, err)
	assert.Equal(t, models.ActionChallengeIssued, out.Action)
}

func TestUnionBanCachedForTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authority.banned = true

	for i := 0; i < 3; i++ {
		banned, err := f.svc.IsUnionBanned(ctx, 8)
		require.NoError(t, err)
		assert.True(t, banned)
	}
	assert.Equal(t, 1, f.authority.calls())

	raw, ok := f.store.Raw(models.GlobalBanKey(8))
	require.True(t, ok)
	assert.Equal(t, "1", raw)
}

func TestUnionBanRemoteFailureNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authority.banErr = errors.NewExternalAPIError("/check_ban", assert.AnError)

	banned, err := f.svc.IsUnionBanned(ctx, 9)
	require.NoError(t, err)
	assert.False(t, banned)
	_, ok := f.store.Raw(models.GlobalBanKey(9))
	assert.False(t, ok)

	f.authority.banErr = nil
	f.authority.banned = true
	banned, err = f.svc.IsUnionBanned(ctx, 9)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, 2, f.authority.calls())
}

func TestUnionBanLegacyAndMalformedValues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, models.GlobalBanKey(10), "true", 0))
	require.NoError(t, f.store.Set(ctx, models.GlobalBanKey(11), "garbage", 0))

	banned, err := f.svc.IsUnionBanned(ctx, 10)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Zero(t, f.authority.calls())

	banned, err = f.svc.IsUnionBanned(ctx, 11)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Equal(t, 1, f.authority.calls())
	raw, _ := f.store.Raw(models.GlobalBanKey(11))
	assert.Equal(t, "0", raw)
}

func TestRefreshClearsBothLayers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authority.banned = true

	banned, err := f.svc.IsUnionBanned(ctx, 12)
	require.NoError(t, err)
	require.True(t, banned)

	f.authority.status = &union.VerifyStatus{Verified: true}
	status, err := f.svc.Refresh(ctx, 12)
	require.NoError(t, err)
	assert.True(t, status.Verified)

	_, ok := f.store.Raw(models.GlobalBanKey(12))
	assert.False(t, ok)

	f.authority.banned = false
	banned, err = f.svc.IsUnionBanned(ctx, 12)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Equal(t, 2, f.authority.calls())
}

func TestRefreshPropagatesRemoteError(t *testing.T) {
	f := newFixture(t)
	f.authority.statusErr = errors.NewExternalAPIError("/check_verify_temp", assert.AnError)

	_, err := f.svc.Refresh(context.Background(), 13)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExternalAPI))
}
