package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SolveCache специализированный кэш для результатов гидравлического решателя
type SolveCache struct {
	cache      Cache
	defaultTTL time.Duration
}

// CachedSolveResult кэшированный результат расчёта стационарного режима
type CachedSolveResult struct {
	Converged         bool               `json:"converged"`
	Iterations        int                `json:"iterations"`
	MaxErrorM         float64            `json:"max_error_m"`
	Levels            map[string]float64 `json:"levels"`
	Flows             map[string]float64 `json:"flows"`
	Warnings          []string           `json:"warnings,omitempty"`
	ComputationTimeMs float64            `json:"computation_time_ms"`
	ComputedAt        time.Time          `json:"computed_at"`
}

// NewSolveCache создаёт кэш для результатов решателя
func NewSolveCache(cache Cache, defaultTTL time.Duration) *SolveCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &SolveCache{
		cache:      cache,
		defaultTTL: defaultTTL,
	}
}

// Get получает кэшированный результат по хешу сети и вектора открытий
func (sc *SolveCache) Get(ctx context.Context, networkHash string, openings map[string]float64) (*CachedSolveResult, bool, error) {
	key := BuildSolveKey(networkHash, OpeningsHash(openings))

	data, err := sc.cache.Get(ctx, key)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}

	var result CachedSolveResult
	if err := json.Unmarshal(data, &result); err != nil {
		// Повреждённый кэш — удаляем, ошибку удаления игнорируем намеренно
		_ = sc.cache.Delete(ctx, key) //nolint:errcheck // best effort cleanup
		return nil, false, nil
	}

	return &result, true, nil
}

// Set сохраняет результат в кэш
func (sc *SolveCache) Set(ctx context.Context, networkHash string, openings map[string]float64, result *CachedSolveResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = sc.defaultTTL
	}

	key := BuildSolveKey(networkHash, OpeningsHash(openings))

	result.ComputedAt = time.Now()

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return sc.cache.Set(ctx, key, data, ttl)
}

// Invalidate удаляет кэш для сети (после перекалибровки затворов)
func (sc *SolveCache) Invalidate(ctx context.Context, networkHash string) error {
	pattern := fmt.Sprintf("solve:%s:*", networkHash)
	_, err := sc.cache.DeleteByPattern(ctx, pattern)
	return err
}

// InvalidateAll удаляет весь кэш результатов решателя
func (sc *SolveCache) InvalidateAll(ctx context.Context) (int64, error) {
	return sc.cache.DeleteByPattern(ctx, "solve:*")
}
