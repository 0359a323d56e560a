package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu          sync.Mutex
	lockErr     error
	lockCalls   int
	unlockCalls int
}

func (l *fakeLocker) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockCalls++
	return l.lockErr
}

func (l *fakeLocker) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlockCalls++
	return nil
}

func TestNewReconciler_Defaults(t *testing.T) {
	env := newTestEnv(t, 10, 0)

	r := NewReconciler(env.cache, env.svc, nil, 0, -1)
	assert.Equal(t, 5*time.Minute, r.interval)
	assert.Equal(t, time.Minute, r.initialDelay)

	// 显式的 0 延迟保留：表示启动后立即首跑
	r = NewReconciler(env.cache, env.svc, nil, time.Minute, 0)
	assert.Equal(t, time.Duration(0), r.initialDelay)
}

func TestReconciler_KeysPresentSkipsResync(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	// 人为制造一个和台账不一致的缓存值：只要 key 还在，对账器就不应该动它
	env.cache.set(testPromoID, testVariantID, 42)

	r := NewReconciler(env.cache, env.svc, nil, time.Minute, 0)
	r.runOnce(context.Background())

	cached, _ := env.cache.get(testPromoID, testVariantID)
	assert.Equal(t, int64(42), cached)
}

func TestReconciler_KeyLossTriggersRebuild(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	require.NoError(t, env.svc.Deduct(context.Background(), deductReq(7, "order-1", 3)))
	env.cache.wipe()

	r := NewReconciler(env.cache, env.svc, nil, time.Minute, 0)
	r.runOnce(context.Background())

	cached, ok := env.cache.get(testPromoID, testVariantID)
	require.True(t, ok, "counter must be rebuilt after total key loss")
	assert.Equal(t, int64(7), cached)
}

func TestReconciler_RebuildGuardedByLeaderLock(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	env.cache.wipe()
	locker := &fakeLocker{}

	r := NewReconciler(env.cache, env.svc, locker, time.Minute, 0)
	r.runOnce(context.Background())

	assert.Equal(t, 1, locker.lockCalls)
	assert.Equal(t, 1, locker.unlockCalls)
	_, ok := env.cache.get(testPromoID, testVariantID)
	assert.True(t, ok)
}

func TestReconciler_LockFailureSkipsRebuild(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	env.cache.wipe()
	locker := &fakeLocker{lockErr: errors.New("zk session expired")}

	r := NewReconciler(env.cache, env.svc, locker, time.Minute, 0)
	r.runOnce(context.Background())

	// 拿不到领导者锁时让别的实例去重建
	_, ok := env.cache.get(testPromoID, testVariantID)
	assert.False(t, ok)
	assert.Equal(t, 0, locker.unlockCalls)
}

func TestReconciler_ProbeErrorSkipsRebuild(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	env.cache.wipe()
	env.cache.probeErr = errors.New("connection refused")

	r := NewReconciler(env.cache, env.svc, nil, time.Minute, 0)
	r.runOnce(context.Background())

	env.cache.probeErr = nil
	_, ok := env.cache.get(testPromoID, testVariantID)
	assert.False(t, ok)
}

func TestReconciler_StartStop(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	env.cache.wipe()

	r := NewReconciler(env.cache, env.svc, nil, 10*time.Millisecond, 0)
	r.Start(context.Background())
	defer r.Stop()

	require.Eventually(t, func() bool {
		_, ok := env.cache.get(testPromoID, testVariantID)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "background loop must rebuild the lost counters")
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 10, 0)

	r := NewReconciler(env.cache, env.svc, nil, time.Minute, 0)
	r.Start(context.Background())
	r.Stop()
	r.Stop()
}

func TestWarmer_PreheatsCountersFromLedger(t *testing.T) {
	env := newTestEnv(t, 25, 0)
	env.cache.wipe()

	w := NewWarmer(env.promoRepo, env.skuRepo, env.svc)
	w.WarmUp(context.Background())

	cached, ok := env.cache.get(testPromoID, testVariantID)
	require.True(t, ok)
	assert.Equal(t, int64(25), cached)
}

func TestWarmer_SurvivesRepositoryFailure(t *testing.T) {
	env := newTestEnv(t, 10, 0)
	env.promoRepo.findErr = errors.New("db down")

	w := NewWarmer(env.promoRepo, env.skuRepo, env.svc)
	// 预热是尽力而为，绝不 panic 也不阻塞启动
	w.WarmUp(context.Background())
}
