package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
)

const queryDateLayout = "2006-01-02"

// ParseQueryInt reads an optional integer query parameter, falling back to def.
func ParseQueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("query parameter %q must be an integer", name))
	}
	return value, nil
}

// ParseQueryBool reads an optional boolean query parameter, falling back to def.
func ParseQueryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("query parameter %q must be a boolean", name))
	}
	return value, nil
}

// ParseQueryDate reads a required YYYY-MM-DD query parameter.
func ParseQueryDate(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("query parameter %q is required", name))
	}

	value, err := time.Parse(queryDateLayout, raw)
	if err != nil {
		return time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("query parameter %q must be a YYYY-MM-DD date", name))
	}
	return value, nil
}
