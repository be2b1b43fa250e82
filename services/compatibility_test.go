package services

import (
	"context"
	"errors"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"twinlink/config"
	"twinlink/logger"
	"twinlink/models"
)

type failingWriter struct{}

func (failingWriter) Write(context.Context, InsightRequest) (Insights, error) {
	return Insights{}, errors.New("model unavailable")
}

func newTestScorer(writer InsightWriter) *CompatibilityScorer {
	return NewCompatibilityScorer(config.New().Compatibility, writer, 0, logger.NewNop(), nil)
}

func sampleProfiles() (*models.Profile, *models.Profile) {
	a := &models.Profile{
		UserID:    "alice",
		Traits:    map[string]float64{"openness": 0.9, "conscientiousness": 0.4, "extraversion": 0.7},
		Interests: []string{"AI", "music", "hiking"},
		Expertise: []string{"frontend", "design"},
		Goals:     []models.Goal{{Category: "career", Priority: 5}, {Category: "health", Priority: 2}},
	}
	b := &models.Profile{
		UserID:    "bob",
		Traits:    map[string]float64{"openness": 0.6, "agreeableness": 0.8},
		Interests: []string{"ai", "sports"},
		Expertise: []string{"backend", "design"},
		Goals:     []models.Goal{{Category: "career", Priority: 3}, {Category: "travel", Priority: 4}},
	}
	return a, b
}

func TestScoreSymmetry(t *testing.T) {
	convey.Convey("Given two different profiles", t, func() {
		s := newTestScorer(nil)
		a, b := sampleProfiles()

		convey.Convey("Then score and every factor are symmetric", func() {
			ab, ba := s.Score(a, b), s.Score(b, a)
			convey.So(ab.Score, convey.ShouldAlmostEqual, ba.Score, 1e-12)
			convey.So(ab.Factors.Personality, convey.ShouldAlmostEqual, ba.Factors.Personality, 1e-12)
			convey.So(ab.Factors.Interests, convey.ShouldAlmostEqual, ba.Factors.Interests, 1e-12)
			convey.So(ab.Factors.Goals, convey.ShouldAlmostEqual, ba.Factors.Goals, 1e-12)
			convey.So(ab.Factors.Expertise, convey.ShouldAlmostEqual, ba.Factors.Expertise, 1e-12)
		})

		convey.Convey("Then a profile is a perfect match with itself", func() {
			self := s.Score(a, a)
			convey.So(self.Score, convey.ShouldAlmostEqual, 1.0, 1e-12)
			convey.So(self.Quality, convey.ShouldAlmostEqual, 1.0, 1e-12)
			convey.So(self.Applicable, convey.ShouldResemble,
				[]string{FactorPersonality, FactorInterests, FactorGoals, FactorExpertise})
		})

		convey.Convey("Then every value stays within [0,1]", func() {
			r := s.Score(a, b)
			convey.So(r.Score, convey.ShouldBeBetweenOrEqual, 0, 1)
			convey.So(r.Quality, convey.ShouldBeBetweenOrEqual, 0, 1)
		})
	})
}

func TestPersonalityFactor(t *testing.T) {
	convey.Convey("Given openness as the only weighted trait", t, func() {
		cfg := config.New().Compatibility
		cfg.TraitWeights = map[string]float64{"openness": 1}
		s := NewCompatibilityScorer(cfg, nil, 0, logger.NewNop(), nil)

		a := &models.Profile{UserID: "a", Traits: map[string]float64{"openness": 0.8}}
		b := &models.Profile{UserID: "b", Traits: map[string]float64{"openness": 0.2}}

		convey.Convey("Then the factor is one minus the distance", func() {
			convey.So(s.personality(a, b), convey.ShouldAlmostEqual, 0.4, 1e-9)
		})

		convey.Convey("Then a missing trait counts as 0.5", func() {
			empty := &models.Profile{UserID: "c"}
			convey.So(s.personality(a, empty), convey.ShouldAlmostEqual, 0.7, 1e-9)
		})

		convey.Convey("Then only personality applies without tags or goals", func() {
			r := s.Score(a, b)
			convey.So(r.Applicable, convey.ShouldResemble, []string{FactorPersonality})
			convey.So(r.Score, convey.ShouldAlmostEqual, 0.4, 1e-9)
			convey.So(r.Quality, convey.ShouldAlmostEqual, 0.4, 1e-9)
		})
	})
}

func TestTagFactors(t *testing.T) {
	convey.Convey("Given interest and expertise tags", t, func() {
		s := newTestScorer(nil)

		convey.Convey("Then interests use Jaccard similarity", func() {
			got := jaccard(tagSet([]string{"ai", "music"}), tagSet([]string{"ai", "sports"}))
			convey.So(got, convey.ShouldAlmostEqual, 1.0/3, 1e-12)
		})

		convey.Convey("Then tags compare case-insensitively", func() {
			got := jaccard(tagSet([]string{" AI ", "Music"}), tagSet([]string{"ai", "music"}))
			convey.So(got, convey.ShouldEqual, 1)
		})

		convey.Convey("Then two empty sets score zero", func() {
			convey.So(jaccard(tagSet(nil), tagSet(nil)), convey.ShouldEqual, 0)
		})

		convey.Convey("Then complementary expertise scores without overlap", func() {
			convey.So(s.expertise([]string{"frontend"}, []string{"backend"}), convey.ShouldAlmostEqual, 0.5, 1e-12)
			convey.So(s.expertise([]string{"frontend"}, []string{"accounting"}), convey.ShouldEqual, 0)
		})

		convey.Convey("Then a subset falls back to plain overlap", func() {
			got := s.expertise([]string{"design", "backend"}, []string{"design"})
			convey.So(got, convey.ShouldAlmostEqual, 0.5, 1e-12)
		})
	})
}

func TestGoalsFactor(t *testing.T) {
	convey.Convey("Given goal lists with one shared category", t, func() {
		a := []models.Goal{{Category: "career", Priority: 5}, {Category: "health", Priority: 2}}
		b := []models.Goal{{Category: "Career", Priority: 3}}

		convey.Convey("Then agreement is divided by the category union", func() {
			// career: 1 - 2/5 = 0.6 over {career, health}
			convey.So(goalsFactor(a, b), convey.ShouldAlmostEqual, 0.3, 1e-12)
		})

		convey.Convey("Then an empty side scores zero", func() {
			convey.So(goalsFactor(a, nil), convey.ShouldEqual, 0)
		})
	})
}

func TestAnalyzeDegradesOnWriterFailure(t *testing.T) {
	convey.Convey("Given an insight writer that always fails", t, func() {
		a, b := sampleProfiles()
		plain := newTestScorer(nil).Analyze(context.Background(), a, b, nil)
		degraded := newTestScorer(failingWriter{}).Analyze(context.Background(), a, b, nil)

		convey.Convey("Then scores are kept and insights are dropped", func() {
			convey.So(degraded.Degraded, convey.ShouldBeTrue)
			convey.So(degraded.Insights.Empty(), convey.ShouldBeTrue)
			convey.So(degraded.Score, convey.ShouldEqual, plain.Score)
			convey.So(degraded.Factors, convey.ShouldResemble, plain.Factors)
		})

		convey.Convey("Then the template writer produces insights", func() {
			convey.So(plain.Degraded, convey.ShouldBeFalse)
			convey.So(plain.Insights.Empty(), convey.ShouldBeFalse)
		})
	})
}

func TestParseInsights(t *testing.T) {
	convey.Convey("Given a fenced JSON reply", t, func() {
		got, err := parseInsights("```json\n{\"synergies\":[\"Both love AI\"]}\n```")

		convey.So(err, convey.ShouldBeNil)
		convey.So(got.Synergies, convey.ShouldResemble, []string{"Both love AI"})
	})

	convey.Convey("Given an empty reply", t, func() {
		_, err := parseInsights("  ")

		convey.So(err, convey.ShouldNotBeNil)
	})
}
