// Package velocity tracks lead submission velocity per contact.
package velocity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openleads/kestrel/internal/domain"
)

// Service counts recent submissions for a contact so that duplicate and
// fraud rules can condition on features.submissionCount.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new velocity service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// CountSubmissions returns the number of submissions from a contact within
// the window, including the one being processed. The cache counter is
// preferred (atomic across nodes); the repository is the fallback.
func (s *Service) CountSubmissions(ctx context.Context, email string, window time.Duration) (int64, error) {
	if email == "" {
		return 0, fmt.Errorf("email is required")
	}
	key := "submissions:" + strings.ToLower(email)

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, key, window)
		if err == nil {
			return count, nil
		}
	}

	if s.repo != nil {
		since := time.Now().Add(-window)
		leads, err := s.repo.GetLeadsByEmail(ctx, email, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count submissions: %w", err)
		}
		// The lead in flight has not been persisted yet.
		return int64(len(leads)) + 1, nil
	}

	return 0, fmt.Errorf("no data source available")
}

// Enrich stamps the submission count into the feature record ahead of
// evaluation. Errors degrade to a missing feature rather than failing the
// capture; the rules treat an absent path as not-matched.
func (s *Service) Enrich(ctx context.Context, email string, features domain.FeatureRecord, window time.Duration) {
	count, err := s.CountSubmissions(ctx, email, window)
	if err != nil {
		return
	}
	features["submissionCount"] = count
}
