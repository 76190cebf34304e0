package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/exam-engine/internal/apperr"
	"github.com/stemsi/exam-engine/internal/model"
	"github.com/stemsi/exam-engine/internal/repository"
)

// StudentResolver maps a caller-supplied identifier onto a directory entry.
// Callers hold whichever form is at hand: the auth-system id, a full email,
// or the local part of an email shown on a roster.
type StudentResolver struct {
	directory StudentDirectory
}

// NewStudentResolver creates a new StudentResolver.
func NewStudentResolver(directory StudentDirectory) *StudentResolver {
	return &StudentResolver{directory: directory}
}

// Resolve tries the primary id, then the full email, then the email local part
// (case-insensitive, first match). It fails with ErrStudentNotFound only when
// all three miss.
func (r *StudentResolver) Resolve(ctx context.Context, identifier string) (*model.Student, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrStudentNotFound
	}

	s, err := r.directory.FindByID(ctx, identifier)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find student by id: %w", err)
	}

	s, err = r.directory.FindByEmail(ctx, identifier)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find student by email: %w", err)
	}

	matches, err := r.directory.FindByEmailPrefix(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("find student by email prefix: %w", err)
	}
	if len(matches) > 0 {
		return &matches[0], nil
	}

	return nil, apperr.Wrap(ErrStudentNotFound, fmt.Errorf("no student matches %q", identifier))
}

// CanonicalID returns the directory id behind identifier. Identifiers that match
// no student are returned unchanged so lookups by them simply find nothing.
func (r *StudentResolver) CanonicalID(ctx context.Context, identifier string) (string, error) {
	s, err := r.Resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			return identifier, nil
		}
		return "", err
	}
	return s.ID, nil
}
