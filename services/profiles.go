package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"twinlink/models"
)

// ProfileSummary is the public slice of a mirrored profile.
type ProfileSummary struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Interests   []string `json:"interests"`
	Expertise   []string `json:"expertise"`
}

// ProfileService reads the local profile mirror.
type ProfileService struct {
	DB *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{DB: db}
}

// Search matches display names case-insensitively. An empty query lists
// profiles by name. limit is clamped to 1..100, default 50.
func (s *ProfileService) Search(ctx context.Context, query string, limit int) ([]ProfileSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Model(&models.Profile{}).Order("display_name").Limit(limit)
	if term := strings.ToLower(strings.TrimSpace(query)); term != "" {
		q = q.Where("LOWER(display_name) LIKE ?", "%"+term+"%")
	}
	var profiles []models.Profile
	if err := q.Find(&profiles).Error; err != nil {
		return nil, dbErr("search profiles", err)
	}
	out := make([]ProfileSummary, len(profiles))
	for i, p := range profiles {
		out[i] = ProfileSummary{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Interests:   p.Interests,
			Expertise:   p.Expertise,
		}
	}
	return out, nil
}

// Get returns one mirrored profile by user id.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, dbErr("get profile "+userID, err)
	}
	return &p, nil
}
