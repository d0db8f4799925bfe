package auth

import (
	"fmt"
	"html"

	"github.com/goliatone/go-router"
)

var TemplateUserKey = "current_user"

// CSRFContextKey is the locals key the csrf middleware stores the
// request token under
var CSRFContextKey = "csrf"

// CSRFFormField is the form field the csrf middleware reads
var CSRFFormField = "_csrf"

// TemplateHelpers returns the data and functions the views use to render
// navigation and role dependent markup for s.
//
// In templates, you can then use:
//
//	{% if is_authenticated %}
//	{% if has_role("admin") %}
//	{% if can_view("/sales/orders") %}
//	{{ csrf_field|safe }}
func TemplateHelpers(s Session) map[string]any {
	return map[string]any{
		TemplateUserKey:    s.Profile,
		"is_authenticated": s.Authenticated() && s.Profile != nil,
		"is_admin":         s.IsAdmin(),
		"has_role": func(role string) bool {
			return hasRole(s, role)
		},
		"can_view": func(path string) bool {
			return canView(s, path)
		},
		"roles": map[string]string{
			"admin":      string(RoleAdmin),
			"sales":      string(RoleSales),
			"production": string(RoleProduction),
		},
		"nav": navigation(s),
	}
}

// TemplateHelpersWithContext adds the request CSRF token to the session
// helpers
func TemplateHelpersWithContext(c router.Context, s Session) map[string]any {
	helpers := TemplateHelpers(s)

	token, _ := c.Locals(CSRFContextKey).(string)
	helpers["csrf_token"] = token
	helpers["csrf_field"] = csrfField(token)

	return helpers
}

func csrfField(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf(`<input type="hidden" name="%s" value="%s">`,
		html.EscapeString(CSRFFormField), html.EscapeString(token))
}

// hasRole checks the resolved profile, never the identity alone
func hasRole(s Session, role string) bool {
	r, ok := ParseRole(role)
	if !ok || s.Loading || s.Profile == nil {
		return false
	}
	return s.Profile.HasRole(r)
}

// canView reports whether path is a known route the session may open.
// Unknown paths are never viewable.
func canView(s Session, path string) bool {
	for _, r := range BreweryRoutes() {
		if r.Path == path {
			return Evaluate(s.Loading, s.Profile, r.Allow) == GuardGranted
		}
	}
	return false
}
