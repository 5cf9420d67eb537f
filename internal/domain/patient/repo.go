package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousResult is returned when an MRN lookup matches more than one
	// patient.
	ErrAmbiguousResult = errors.New("ambiguous result")
	ErrDuplicateMRN    = errors.New("medical record number already in use")
	ErrNoBirthDate     = errors.New("patient has no birth date")
)

type PatientRepository interface {
	// Create inserts p, keeping its ID when one is set.
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

// Catalog answers indexed queries over patients.
type Catalog interface {
	Search(ctx context.Context, q Query) ([]*Summary, error)
	GetObject(ctx context.Context, s *Summary) (*Patient, error)
}

type FolderRepository interface {
	Create(ctx context.Context, f *Folder) error
	GetByName(ctx context.Context, name string) (*Folder, error)
}
