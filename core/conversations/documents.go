package conversations

import (
	"context"
	"time"
)

// Document is a piece of scope knowledge uploaded by a user.
type Document struct {
	ID         string
	Scope      Scope
	Title      string
	Content    string
	UploadedBy string
	CreatedAt  time.Time
}

type DocumentStore interface {
	AddDocument(ctx context.Context, document Document) (Document, error)
	SubscribeDocuments(scope Scope, onChange func([]Document)) (unsubscribe func())
}

// MemberStore records who belongs to a company.
type MemberStore interface {
	AddMember(ctx context.Context, companyID string, email string) error
}
