package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-persona/core/conversations"
)

func (s *Store) AddDocument(ctx context.Context, doc conversations.Document) (conversations.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	createdAt := now()
	if !doc.CreatedAt.IsZero() {
		createdAt = doc.CreatedAt.UTC().UnixNano()
	}
	doc.CreatedAt = fromUnixNano(createdAt)

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, scope, title, content, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Scope.String(), doc.Title, doc.Content, doc.UploadedBy, createdAt,
	); err != nil {
		return conversations.Document{}, fmt.Errorf("failed to insert document: %w", err)
	}

	if s.documentSubs.has(doc.Scope) {
		if docs, err := s.Documents(ctx, doc.Scope); err != nil {
			logger.Error("failed to reload documents", "scope", doc.Scope.String(), "error", err)
		} else {
			s.documentSubs.notify(doc.Scope, docs)
		}
	}
	return doc, nil
}

func (s *Store) Documents(ctx context.Context, scope conversations.Scope) ([]conversations.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, uploaded_by, created_at
		FROM documents WHERE scope = ? ORDER BY seq`, scope.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []conversations.Document{}
	for rows.Next() {
		doc := conversations.Document{Scope: scope}
		var createdAt int64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.UploadedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.CreatedAt = fromUnixNano(createdAt)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) SubscribeDocuments(scope conversations.Scope, onChange func([]conversations.Document)) func() {
	unsubscribe := s.documentSubs.add(scope, onChange)

	docs, err := s.Documents(context.Background(), scope)
	if err != nil {
		logger.Error("failed to load documents", "scope", scope.String(), "error", err)
		docs = []conversations.Document{}
	}
	onChange(docs)

	return unsubscribe
}

func (s *Store) AddMember(ctx context.Context, companyID string, email string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO members (company_id, email, added_at) VALUES (?, ?, ?)
		ON CONFLICT(company_id, email) DO NOTHING`,
		companyID, email, now(),
	); err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (s *Store) Members(ctx context.Context, companyID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email FROM members WHERE company_id = ? ORDER BY added_at, email`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	emails := []string{}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}
