package services

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/metrics"
	"twinlink/models"
)

// Factor names, also the keys of the weight map.
const (
	FactorPersonality = "personality"
	FactorInterests   = "interests"
	FactorGoals       = "goals"
	FactorExpertise   = "expertise"
)

var factorOrder = []string{FactorPersonality, FactorInterests, FactorGoals, FactorExpertise}

// Factors is the per-factor breakdown of a score, each in [0,1].
type Factors struct {
	Personality float64 `json:"personality"`
	Interests   float64 `json:"interests"`
	Goals       float64 `json:"goals"`
	Expertise   float64 `json:"expertise"`
}

func (f Factors) get(name string) float64 {
	switch name {
	case FactorPersonality:
		return f.Personality
	case FactorInterests:
		return f.Interests
	case FactorGoals:
		return f.Goals
	case FactorExpertise:
		return f.Expertise
	}
	return 0
}

// Insights is qualitative text derived from the factor breakdown.
type Insights struct {
	Synergies       []string `json:"synergies"`
	Opportunities   []string `json:"opportunities"`
	Challenges      []string `json:"challenges"`
	Recommendations []string `json:"recommendations"`
}

// Empty reports whether no insight was produced.
func (i Insights) Empty() bool {
	return len(i.Synergies)+len(i.Opportunities)+len(i.Challenges)+len(i.Recommendations) == 0
}

// ScoringContext carries optional signals beyond the two profiles.
type ScoringContext struct {
	RecentInteractions []models.Interaction
}

// CompatibilityResult is the scorer output.
type CompatibilityResult struct {
	Score   float64 `json:"score"`
	Quality float64 `json:"quality"`
	Factors Factors `json:"factors"`
	// Applicable lists the factors both profiles carried data for.
	Applicable []string `json:"applicable"`
	Insights   Insights `json:"insights"`
	Degraded   bool     `json:"degraded"`
}

// DefaultComplements is the symmetric table of expertise tags that pair well.
var DefaultComplements = [][2]string{
	{"frontend", "backend"},
	{"frontend", "design"},
	{"backend", "devops"},
	{"backend", "data"},
	{"backend", "mobile"},
	{"data", "machine-learning"},
	{"design", "marketing"},
	{"design", "product"},
	{"engineering", "product"},
	{"marketing", "sales"},
	{"writing", "marketing"},
	{"security", "devops"},
	{"research", "product"},
	{"finance", "operations"},
}

// CompatibilityScorer turns two profiles into a score. It holds only
// immutable configuration and is safe for concurrent use.
type CompatibilityScorer struct {
	weights      map[string]float64
	traitWeights map[string]float64
	traitOrder   []string
	complements  map[string]map[string]bool

	writer         InsightWriter
	insightTimeout time.Duration

	log     *logger.Logger
	metrics *metrics.Manager
}

// NewCompatibilityScorer normalizes the configured weight maps. A nil writer
// uses local templates.
func NewCompatibilityScorer(cfg config.CompatibilityConfig, writer InsightWriter, insightTimeout time.Duration, log *logger.Logger, m *metrics.Manager) *CompatibilityScorer {
	if writer == nil {
		writer = TemplateInsightWriter{}
	}
	if insightTimeout <= 0 {
		insightTimeout = 5 * time.Second
	}
	s := &CompatibilityScorer{
		weights:        normalizeWeights(cfg.Weights),
		traitWeights:   normalizeWeights(cfg.TraitWeights),
		complements:    buildComplements(DefaultComplements),
		writer:         writer,
		insightTimeout: insightTimeout,
		log:            log.With("service", "CompatibilityScorer"),
		metrics:        m,
	}
	for trait := range s.traitWeights {
		s.traitOrder = append(s.traitOrder, trait)
	}
	sort.Strings(s.traitOrder)
	return s
}

func normalizeWeights(in map[string]float64) map[string]float64 {
	var sum float64
	for _, w := range in {
		if w > 0 {
			sum += w
		}
	}
	out := make(map[string]float64, len(in))
	if sum == 0 {
		return out
	}
	for k, w := range in {
		if w > 0 {
			out[strings.ToLower(k)] = w / sum
		}
	}
	return out
}

func buildComplements(pairs [][2]string) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	add := func(a, b string) {
		if out[a] == nil {
			out[a] = make(map[string]bool)
		}
		out[a][b] = true
	}
	for _, p := range pairs {
		a, b := normalizeTag(p[0]), normalizeTag(p[1])
		add(a, b)
		add(b, a)
	}
	return out
}

// Score computes the factors and the weighted total. It has no side effects.
func (s *CompatibilityScorer) Score(a, b *models.Profile) CompatibilityResult {
	f := Factors{
		Personality: s.personality(a, b),
		Interests:   jaccard(tagSet(a.Interests), tagSet(b.Interests)),
		Goals:       goalsFactor(a.Goals, b.Goals),
		Expertise:   s.expertise(a.Expertise, b.Expertise),
	}

	applicable := []string{FactorPersonality}
	if len(tagSet(a.Interests)) > 0 && len(tagSet(b.Interests)) > 0 {
		applicable = append(applicable, FactorInterests)
	}
	if len(goalPriorities(a.Goals)) > 0 && len(goalPriorities(b.Goals)) > 0 {
		applicable = append(applicable, FactorGoals)
	}
	if len(tagSet(a.Expertise)) > 0 && len(tagSet(b.Expertise)) > 0 {
		applicable = append(applicable, FactorExpertise)
	}

	var num, den float64
	minFactor := 1.0
	for _, name := range applicable {
		v := f.get(name)
		w := s.weights[name]
		num += w * v
		den += w
		minFactor = math.Min(minFactor, v)
	}
	var score float64
	if den > 0 {
		score = num / den
	} else {
		// every applicable factor has weight 0: fall back to the plain mean
		for _, name := range applicable {
			score += f.get(name)
		}
		score /= float64(len(applicable))
	}
	score = clamp01(score)

	return CompatibilityResult{
		Score:      score,
		Quality:    clamp01((score + minFactor) / 2),
		Factors:    f,
		Applicable: applicable,
		Insights:   Insights{},
	}
}

// Analyze scores the pair and adds insights. A failing or slow insight writer
// yields empty insights with Degraded set; the scores are unaffected.
func (s *CompatibilityScorer) Analyze(ctx context.Context, a, b *models.Profile, sc *ScoringContext) CompatibilityResult {
	res := s.Score(a, b)
	s.metrics.ObserveScore(res.Score)

	base := baseInsights(res, a, b, sc)
	wctx, cancel := context.WithTimeout(ctx, s.insightTimeout)
	defer cancel()

	insights, err := s.writer.Write(wctx, InsightRequest{From: a, To: b, Result: res, Base: base})
	if err != nil {
		s.metrics.RecordInsightsDegraded()
		s.log.Warn("insight writer failed",
			"error", ErrScoringDegraded,
			"cause", err,
			"userA", a.UserID,
			"userB", b.UserID,
		)
		res.Degraded = true
		res.Insights = Insights{}
		return res
	}
	res.Insights = insights
	return res
}

// personality is 1 - sqrt(sum w_t (a_t - b_t)^2) over the configured traits.
func (s *CompatibilityScorer) personality(a, b *models.Profile) float64 {
	var sum float64
	for _, trait := range s.traitOrder {
		d := a.Trait(trait) - b.Trait(trait)
		sum += s.traitWeights[trait] * d * d
	}
	return clamp01(1 - math.Sqrt(sum))
}

// expertise averages direct overlap with the complementary-pair score.
func (s *CompatibilityScorer) expertise(a, b []string) float64 {
	setA, setB := tagSet(a), tagSet(b)
	overlap := jaccard(setA, setB)

	var onlyA, onlyB []string
	for t := range setA {
		if !setB[t] {
			onlyA = append(onlyA, t)
		}
	}
	for t := range setB {
		if !setA[t] {
			onlyB = append(onlyB, t)
		}
	}
	if len(onlyA) == 0 || len(onlyB) == 0 {
		return overlap
	}

	pairs := 0
	for _, x := range onlyA {
		for _, y := range onlyB {
			if s.complements[x][y] {
				pairs++
			}
		}
	}
	maxPairs := len(onlyA)
	if len(onlyB) < maxPairs {
		maxPairs = len(onlyB)
	}
	complementary := math.Min(1, float64(pairs)/float64(maxPairs))
	return (overlap + complementary) / 2
}

// goalsFactor sums per-category priority agreement over categories in both
// lists and divides by the size of the category union.
func goalsFactor(a, b []models.Goal) float64 {
	pa, pb := goalPriorities(a), goalPriorities(b)
	if len(pa) == 0 || len(pb) == 0 {
		return 0
	}
	union := make([]string, 0, len(pa)+len(pb))
	for cat := range pa {
		union = append(union, cat)
	}
	for cat := range pb {
		if _, ok := pa[cat]; !ok {
			union = append(union, cat)
		}
	}
	sort.Strings(union)

	var sum float64
	for _, cat := range union {
		p, okA := pa[cat]
		q, okB := pb[cat]
		if okA && okB {
			sum += 1 - math.Abs(float64(p-q))/5
		}
	}
	return clamp01(sum / float64(len(union)))
}

func goalPriorities(goals []models.Goal) map[string]int {
	out := make(map[string]int, len(goals))
	for _, g := range goals {
		cat := normalizeTag(g.Category)
		if cat == "" {
			continue
		}
		p := g.Priority
		if p < 1 {
			p = 1
		} else if p > 5 {
			p = 5
		}
		if prev, ok := out[cat]; !ok || p > prev {
			out[cat] = p
		}
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	union := len(a)
	inter := 0
	for t := range b {
		if a[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

func tagSet(tags []string) map[string]bool {
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t = normalizeTag(t); t != "" {
			out[t] = true
		}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
