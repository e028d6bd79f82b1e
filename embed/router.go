package embed

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	parley "github.com/ostramo/parley"
	"github.com/ostramo/parley/vector"
)

// Privacy tiers.
const (
	PrivacyHigh   = "high"
	PrivacyMedium = "medium"
	PrivacyLow    = "low"
)

// Embedding methods recorded in message metadata.
const (
	MethodTFIDF      = "tfidf_local"
	MethodSimple     = "simple_local"
	MethodExternal   = "external"
	MethodAnonymized = "anonymized_external"
	MethodZero       = "zero_vector"
)

// zeroDim is the dimensionality of the zero vector returned for empty
// input.
const zeroDim = 128

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	ssnPattern      = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	apiKeyPattern   = regexp.MustCompile(`(?i)api[ _-]?key\s*[:=]\s*\S+`)
	tokenPattern    = regexp.MustCompile(`(?i)token\s*[:=]\s*\S+`)
	passwordPattern = regexp.MustCompile(`(?i)password\s*[:=]\s*\S+`)
)

// Sensitive reports whether text contains PII or credential markers:
// an email-like pattern, an SSN-like pattern, or any of the substrings
// "password", "api key", "secret", "token".
func Sensitive(text string) bool {
	if emailPattern.MatchString(text) || ssnPattern.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"password", "api key", "secret", "token"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Anonymize replaces recognised PII spans with fixed placeholders.
// The placeholders themselves match none of the patterns, so the
// function is idempotent.
func Anonymize(text string) string {
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	text = ssnPattern.ReplaceAllString(text, "[SSN]")
	text = apiKeyPattern.ReplaceAllString(text, "[API_KEY]")
	text = tokenPattern.ReplaceAllString(text, "[TOKEN]")
	text = passwordPattern.ReplaceAllString(text, "[PASSWORD]")
	return text
}

// RouterStats counts routing decisions.
type RouterStats struct {
	Total    int64 `json:"total_requests"`
	Local    int64 `json:"local_requests"`
	External int64 `json:"external_requests"`
	Filtered int64 `json:"filtered_requests"`
}

// Router decides, per text, whether embedding happens locally or via the
// external service, anonymising on the way out when the tier demands it.
type Router struct {
	level    string
	zdr      bool
	tfidf    *TFIDF
	wordvec  *WordVec
	external parley.EmbeddingProvider
	logger   *slog.Logger

	mu    sync.Mutex
	stats RouterStats
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// RouterExternal sets the external embedding provider. Required for the
// medium and low tiers.
func RouterExternal(p parley.EmbeddingProvider) RouterOption {
	return func(r *Router) { r.external = p }
}

// RouterZDR marks the external service as enterprise zero-data-retention,
// which raises the compliance score.
func RouterZDR(enabled bool) RouterOption {
	return func(r *Router) { r.zdr = enabled }
}

// RouterLogger sets the logger. Defaults to a discarding logger.
func RouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// RouterSeed sets the word-vector seed for reproducible local
// embeddings.
func RouterSeed(seed int64) RouterOption {
	return func(r *Router) { r.wordvec = NewWordVec(0, seed) }
}

// NewRouter creates a privacy router for the given tier.
func NewRouter(level string, opts ...RouterOption) (*Router, error) {
	switch level {
	case PrivacyHigh, PrivacyMedium, PrivacyLow:
	default:
		return nil, fmt.Errorf("privacy router: unknown tier %q", level)
	}
	r := &Router{
		level:   level,
		tfidf:   NewTFIDF(),
		wordvec: NewWordVec(0, 0),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if level != PrivacyHigh && r.external == nil {
		return nil, fmt.Errorf("privacy router: tier %q requires an external embedder", level)
	}
	return r, nil
}

// Level returns the configured privacy tier.
func (r *Router) Level() string { return r.level }

// Train fits both local embedders on the corpus.
func (r *Router) Train(corpus []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tfidf.Fit(corpus)
	r.wordvec.Fit(corpus)
}

// Embed routes text to the embedder its privacy tier permits and
// returns the vector together with the method that produced it.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, string, error) {
	text = norm.NFKC.String(text)

	r.mu.Lock()
	r.stats.Total++
	r.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, zeroDim), MethodZero, nil
	}

	if r.level == PrivacyHigh {
		return r.embedLocal(text)
	}

	payload := text
	method := MethodExternal
	if r.level == PrivacyMedium && Sensitive(text) {
		payload = Anonymize(text)
		method = MethodAnonymized
		r.mu.Lock()
		r.stats.Filtered++
		r.mu.Unlock()
		r.logger.Debug("anonymized sensitive text before external embedding")
	}

	// An external failure never aborts the caller's ingest path; the
	// local embedders take over for this text.
	vecs, err := r.external.Embed(ctx, []string{payload})
	if err != nil {
		r.logger.Warn("external embedding failed, falling back to local", "error", err)
		return r.embedLocal(text)
	}
	if len(vecs) != 1 {
		r.logger.Warn("external embedding returned unexpected vector count, falling back to local",
			"count", len(vecs))
		return r.embedLocal(text)
	}
	r.mu.Lock()
	r.stats.External++
	r.mu.Unlock()
	return vecs[0], method, nil
}

// embedLocal tries TF-IDF first and falls back to averaged word vectors
// when TF-IDF yields the zero vector.
func (r *Router) embedLocal(text string) ([]float32, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Local++

	if v := r.tfidf.Transform(text); vector.Magnitude(v) > 0 {
		return v, MethodTFIDF, nil
	}
	if v := r.wordvec.Transform(text); vector.Magnitude(v) > 0 {
		return v, MethodSimple, nil
	}
	return make([]float32, zeroDim), MethodZero, nil
}

// Stats returns a snapshot of the routing counters.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ComplianceScore estimates privacy posture on a 0-100 scale: a base
// per tier, a bonus for zero-data-retention, and up to 5 points for the
// fraction of requests kept local.
func (r *Router) ComplianceScore() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var score float64
	switch r.level {
	case PrivacyHigh:
		score = 80
	case PrivacyMedium:
		score = 60
	case PrivacyLow:
		score = 40
	}
	if r.zdr {
		score += 15
	}
	if r.stats.Total > 0 {
		score += 5 * float64(r.stats.Local) / float64(r.stats.Total)
	}
	if score > 100 {
		score = 100
	}
	return score
}
