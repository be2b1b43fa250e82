package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/genai"

	"twinlink/models"
)

// InsightRequest is what an InsightWriter sees: the pair, its scores and the
// locally templated insights.
type InsightRequest struct {
	From   *models.Profile
	To     *models.Profile
	Result CompatibilityResult
	Base   Insights
}

// InsightWriter produces the final insight text for an analysis.
type InsightWriter interface {
	Write(ctx context.Context, req InsightRequest) (Insights, error)
}

// TemplateInsightWriter returns the templated insights unchanged.
type TemplateInsightWriter struct{}

func (TemplateInsightWriter) Write(_ context.Context, req InsightRequest) (Insights, error) {
	return req.Base, nil
}

// baseInsights derives templated insight text from factor thresholds.
func baseInsights(res CompatibilityResult, a, b *models.Profile, sc *ScoringContext) Insights {
	var out Insights
	f := res.Factors

	shared := sharedTags(a.Interests, b.Interests)
	switch {
	case f.Interests >= 0.5 && len(shared) > 0:
		out.Synergies = append(out.Synergies, fmt.Sprintf("Strong shared interests: %s", joinTitled(shared)))
	case len(shared) > 0:
		out.Opportunities = append(out.Opportunities, fmt.Sprintf("Common ground to build on: %s", joinTitled(shared)))
	case f.Interests == 0 && len(a.Interests) > 0 && len(b.Interests) > 0:
		out.Challenges = append(out.Challenges, "No overlapping interests yet")
		out.Recommendations = append(out.Recommendations, "Explore each other's interests to find a first topic")
	}

	switch {
	case f.Personality >= 0.8:
		out.Synergies = append(out.Synergies, "Very similar personalities")
	case f.Personality < 0.5:
		out.Challenges = append(out.Challenges, "Noticeably different personalities")
		out.Recommendations = append(out.Recommendations, "Take time to learn each other's communication style")
	}

	if f.Goals >= 0.6 {
		out.Synergies = append(out.Synergies, "Aligned goals and priorities")
	} else if f.Goals > 0 {
		out.Opportunities = append(out.Opportunities, "Some goals overlap with different priorities")
	}

	if f.Expertise >= 0.5 {
		out.Opportunities = append(out.Opportunities, "Complementary expertise suggests collaboration")
		out.Recommendations = append(out.Recommendations, "Consider a small project together")
	}

	if sc != nil && len(sc.RecentInteractions) > 0 {
		var total float64
		for _, i := range sc.RecentInteractions {
			total += i.Sentiment
		}
		if total/float64(len(sc.RecentInteractions)) < 0.4 {
			out.Challenges = append(out.Challenges, "Recent conversations have been tense")
		}
	}

	if res.Score >= 0.8 {
		out.Recommendations = append(out.Recommendations, "Reach out soon: this is a high-potential match")
	}
	return out
}

func sharedTags(a, b []string) []string {
	setB := tagSet(b)
	var out []string
	for t := range tagSet(a) {
		if setB[t] {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func joinTitled(tags []string) string {
	caser := cases.Title(language.English)
	titled := make([]string, len(tags))
	for i, t := range tags {
		titled[i] = caser.String(t)
	}
	return strings.Join(titled, ", ")
}

// GenAIInsightWriter asks Gemini to rephrase the templated insights.
type GenAIInsightWriter struct {
	client *genai.Client
	model  string
}

func NewGenAIInsightWriter(ctx context.Context, apiKey, model string) (*GenAIInsightWriter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIInsightWriter{client: client, model: model}, nil
}

const insightPrompt = `You write short, friendly compatibility insights for two people.
Rewrite the JSON below. Keep the same four keys (synergies, opportunities, challenges,
recommendations), keep every list the same length, one sentence per entry. Respond with JSON only.

Factor scores: %s
Insights: %s`

func (w *GenAIInsightWriter) Write(ctx context.Context, req InsightRequest) (Insights, error) {
	if req.Base.Empty() {
		return req.Base, nil
	}
	factors, err := json.Marshal(req.Result.Factors)
	if err != nil {
		return Insights{}, err
	}
	base, err := json.Marshal(req.Base)
	if err != nil {
		return Insights{}, err
	}

	resp, err := w.client.Models.GenerateContent(ctx, w.model,
		genai.Text(fmt.Sprintf(insightPrompt, factors, base)),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return Insights{}, fmt.Errorf("GenAI generate failed: %w", err)
	}
	return parseInsights(resp.Text())
}

func parseInsights(raw string) (Insights, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if strings.TrimSpace(raw) == "" {
		return Insights{}, errors.New("empty insight response")
	}
	var out Insights
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Insights{}, fmt.Errorf("decode insight response: %w", err)
	}
	return out, nil
}
