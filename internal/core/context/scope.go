package context

import "context"

// SchoolScope restricts row visibility to a single school.
// A zero value with Global set means "every school".
type SchoolScope struct {
	SchoolID int64
	Global   bool
}

// Allows reports whether a row owned by schoolID is visible.
func (s SchoolScope) Allows(schoolID int64) bool {
	return s.Global || s.SchoolID == schoolID
}

type scopeKey struct{}

// WithScope stores the row visibility scope in context.
func WithScope(ctx context.Context, scope SchoolScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// GetScope returns the scope from context.
// Without an explicit scope the user (if any) decides; otherwise nothing is visible.
func GetScope(ctx context.Context) (SchoolScope, bool) {
	if s, ok := ctx.Value(scopeKey{}).(SchoolScope); ok {
		return s, true
	}
	if u := GetUser(ctx); u != nil {
		return ScopeForUser(u), true
	}
	return SchoolScope{}, false
}

// ScopeForUser derives the visibility scope from user claims.
func ScopeForUser(u *UserContext) SchoolScope {
	if u.HasGlobalPermissions {
		return SchoolScope{Global: true}
	}
	return SchoolScope{SchoolID: u.SchoolID}
}
