package students

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
)

// BillingParties resolves who gets charged for a student's invoice. The
// parent always comes from the student profile, never from the caller.
type BillingParties struct {
	StudentID uuid.UUID
	ParentID  uuid.UUID
	TutorID   uuid.UUID
}

// Service exposes the student directory checks the billing flows rely on.
type Service interface {
	ResolveBillingParties(ctx context.Context, tutorID, studentID uuid.UUID) (*BillingParties, error)
	ValidateEnrollment(ctx context.Context, enrollmentID, studentID, tutorID uuid.UUID) (*models.Enrollment, error)
	IsParentOf(ctx context.Context, parentID, studentID uuid.UUID) (bool, error)
	WithTx(tx *gorm.DB) Service
}

type service struct {
	repo Repository
}

// NewService builds the student directory service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("students repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

// ResolveBillingParties verifies the tutor is allowed to bill the student and
// derives the registered parent from the student profile.
func (s *service) ResolveBillingParties(ctx context.Context, tutorID, studentID uuid.UUID) (*BillingParties, error) {
	if tutorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "tutor identity missing")
	}
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student id required")
	}

	student, err := s.repo.FindUser(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}
	if student.Role != enums.UserRoleStudent || !student.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}

	profile, err := s.repo.FindProfileByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student profile")
	}
	if profile.TutorID == nil || *profile.TutorID != tutorID {
		return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "student is not assigned to this tutor")
	}
	if profile.ParentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student has no registered parent")
	}

	return &BillingParties{
		StudentID: studentID,
		ParentID:  *profile.ParentID,
		TutorID:   tutorID,
	}, nil
}

// ValidateEnrollment checks the optional enrollment reference on an invoice:
// it must exist, be active, belong to the student, and (when the enrollment
// carries a tutor) match the billing tutor.
func (s *service) ValidateEnrollment(ctx context.Context, enrollmentID, studentID, tutorID uuid.UUID) (*models.Enrollment, error) {
	if enrollmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidEnrollment, "enrollment id required")
	}

	enrollment, err := s.repo.FindEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidEnrollment, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	if !enrollment.Active {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidEnrollment, "enrollment is not active")
	}
	if enrollment.StudentID != studentID {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidEnrollment, "enrollment does not belong to student")
	}
	if enrollment.TutorID != nil && *enrollment.TutorID != tutorID {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidEnrollment, "enrollment belongs to another tutor")
	}
	return enrollment, nil
}

// IsParentOf re-verifies the parent-student link at delivery time. Links may
// change between invoice creation and event fan-out, so broadcast consumers
// call this immediately before delivering.
func (s *service) IsParentOf(ctx context.Context, parentID, studentID uuid.UUID) (bool, error) {
	if parentID == uuid.Nil || studentID == uuid.Nil {
		return false, nil
	}
	profile, err := s.repo.FindProfileByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student profile")
	}
	return profile.ParentID != nil && *profile.ParentID == parentID, nil
}
