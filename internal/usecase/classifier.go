package usecase

import (
	"context"
	"errors"
	"strings"

	"taskrunner/internal/domain"
)

// Classifier maps executor failures onto domain.ErrorKind so the retry
// controller can decide eligibility. Already-classified ExecutionErrors pass
// through; everything else falls back to context sentinels and string
// patterns. Unrecognized errors are permanent: an unknown failure must not
// loop through the retry path.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

var (
	resourcePatterns = []string{
		"rate limit", "too many requests", "quota", "overloaded",
		"connection refused", "connection reset", "no such host",
		"network is unreachable", "broken pipe",
	}
	transientPatterns = []string{
		"temporarily unavailable", "service unavailable", "try again",
		"internal server error", "bad gateway", "eof",
	}
	timeoutPatterns = []string{
		"timeout", "timed out", "deadline exceeded",
	}
)

// Classify returns the error kind for err.
func (c *Classifier) Classify(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindPermanent
	}

	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return domain.KindTimeout
	case errors.Is(err, context.Canceled):
		return domain.KindUserCancel
	case errors.Is(err, domain.ErrInvalidInput):
		return domain.KindValidation
	}

	lower := strings.ToLower(err.Error())
	for _, p := range timeoutPatterns {
		if strings.Contains(lower, p) {
			return domain.KindTimeout
		}
	}
	for _, p := range resourcePatterns {
		if strings.Contains(lower, p) {
			return domain.KindResource
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(lower, p) {
			return domain.KindTransient
		}
	}

	return domain.KindPermanent
}
