package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/api/middleware"
	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
)

// requestActor resolves the authenticated actor from the request context.
func requestActor(r *http.Request) (invoices.Actor, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return invoices.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return invoices.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	return invoices.Actor{UserID: userID, Role: role}, nil
}
