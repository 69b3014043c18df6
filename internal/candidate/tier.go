package candidate

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmatch/matching-service/internal/model"
)

// TierResult is the outcome of classifying a candidate's college tier.
type TierResult struct {
	Tier       string   `json:"college_tier"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
	CacheHit   bool     `json:"cache_hit"`
}

// TierClassifier assigns a college tier from free-form education text.
// Implementations must be safe for concurrent use.
type TierClassifier interface {
	Classify(ctx context.Context, educationText string) TierResult
}

// ─── Heuristic classifier ────────────────────────────────────────────────────

// tierMarkers maps institution markers to tiers, checked in order so TIER_1
// markers win over TIER_2 ones. Word boundaries keep "iit" from matching
// inside "iiit" and "nit" from matching inside ordinary words.
var tierMarkers = []struct {
	tier    string
	pattern *regexp.Regexp
}{
	{model.TierOne, regexp.MustCompile(`indian institute of technology|\biit\b|bits pilani|\biisc\b`)},
	{model.TierTwo, regexp.MustCompile(`national institute of technology|\bnit\b|\biiit\b|delhi technological`)},
	{model.TierThree, regexp.MustCompile(`university|college|institute`)},
}

// HeuristicTierClassifier classifies by institution-name markers. It is the
// default deterministic classifier; model-backed classifiers plug in behind
// the same interface.
type HeuristicTierClassifier struct{}

// Classify assigns a tier from education text markers. Empty text yields
// UNKNOWN with zero confidence.
func (HeuristicTierClassifier) Classify(_ context.Context, educationText string) TierResult {
	if strings.TrimSpace(educationText) == "" {
		return TierResult{Tier: model.TierUnknown, Evidence: []string{"No education data"}}
	}

	lowered := strings.ToLower(educationText)
	for _, group := range tierMarkers {
		if match := group.pattern.FindString(lowered); match != "" {
			confidence := 0.9
			if group.tier == model.TierThree {
				confidence = 0.5
			}
			return TierResult{
				Tier:       group.tier,
				Confidence: confidence,
				Evidence:   []string{"matched: " + match},
			}
		}
	}
	return TierResult{Tier: model.TierUnknown, Confidence: 0.1, Evidence: []string{"no institution marker"}}
}

// ─── Cached classifier ───────────────────────────────────────────────────────

const tierCacheTTL = 30 * 24 * time.Hour

var whitespacePattern = regexp.MustCompile(`\s+`)

// CachedTierClassifier fronts another classifier with a Redis lookup cache
// keyed by normalized education text. Only definitive (non-UNKNOWN) results
// are cached. Cache failures degrade to the inner classifier.
type CachedTierClassifier struct {
	inner TierClassifier
	rdb   *redis.Client
	log   *zap.Logger
}

// NewCachedTierClassifier wraps inner with the Redis-backed lookup cache.
func NewCachedTierClassifier(inner TierClassifier, rdb *redis.Client, log *zap.Logger) *CachedTierClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedTierClassifier{inner: inner, rdb: rdb, log: log}
}

// Classify consults the cache first, falling back to the inner classifier
// and caching its definitive answers.
func (c *CachedTierClassifier) Classify(ctx context.Context, educationText string) TierResult {
	key := cacheKey(educationText)
	if key == "" {
		return c.inner.Classify(ctx, educationText)
	}

	raw, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		var cached TierResult
		if json.Unmarshal([]byte(raw), &cached) == nil && cached.Tier != "" {
			cached.CacheHit = true
			return cached
		}
	} else if err != redis.Nil {
		c.log.Warn("tier cache read failed", zap.Error(err))
	}

	result := c.inner.Classify(ctx, educationText)
	if result.Tier != model.TierUnknown {
		payload, _ := json.Marshal(result)
		if err := c.rdb.Set(ctx, key, payload, tierCacheTTL).Err(); err != nil {
			c.log.Warn("tier cache write failed", zap.Error(err))
		}
	}
	return result
}

// cacheKey collapses whitespace and lower-cases the education text, capped
// at 255 characters to keep keys bounded.
func cacheKey(educationText string) string {
	normalized := whitespacePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(educationText)), " ")
	if normalized == "" {
		return ""
	}
	if len(normalized) > 255 {
		normalized = normalized[:255]
	}
	return "tier-cache:" + normalized
}
