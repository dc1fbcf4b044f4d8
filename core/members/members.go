// Package members invites people to a company.
package members

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/koscakluka/ema-persona/core/conversations"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Service struct {
	store conversations.MemberStore
}

func NewService(store conversations.MemberStore) *Service {
	return &Service{store: store}
}

// Add validates email and adds it to the company. Emails are stored
// lowercase.
func (s *Service) Add(ctx context.Context, companyID string, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(email) {
		return conversations.NewValidationError("Please enter a valid email address.")
	}
	if strings.TrimSpace(companyID) == "" {
		return conversations.NewValidationError("A company is required to add members.")
	}

	if err := s.store.AddMember(ctx, companyID, email); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}
