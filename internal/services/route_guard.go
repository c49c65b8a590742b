package services

import (
	"path"
	"sort"
	"strings"

	"github.com/Sujal-jagdev/DeepNex-SchoolPortal-sub001/internal/models"
)

// Route is one entry of the portal's page table. An empty Roles set admits
// every authenticated role.
type Route struct {
	Path         string            `json:"path"`
	AuthRequired bool              `json:"auth_required"`
	Roles        []models.UserRole `json:"roles,omitempty"`
}

func (r Route) admits(role models.UserRole) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

type RouteDecisionReason string

const (
	RouteAllowed         RouteDecisionReason = "allowed"
	RouteUnauthenticated RouteDecisionReason = "unauthenticated"
	RouteRoleMismatch    RouteDecisionReason = "role-mismatch"
	RouteUnknown         RouteDecisionReason = "not-found"
)

type RouteDecision struct {
	Path     string              `json:"path"`
	Allowed  bool                `json:"allowed"`
	Redirect string              `json:"redirect,omitempty"`
	Reason   RouteDecisionReason `json:"reason"`
}

var portalRoutes = []Route{
	{Path: "/"},
	{Path: PathLogin},
	{Path: "/signup"},
	{Path: "/confirm-email"},
	{Path: "/forgot-password"},
	{Path: "/reset-password"},
	{Path: PathNotFound},
	{Path: PathCompleteProfile, AuthRequired: true},
	{Path: PathProfile, AuthRequired: true, Roles: []models.UserRole{models.RoleStudent}},
	{Path: "/student-chat", AuthRequired: true, Roles: []models.UserRole{models.RoleStudent}},
	{Path: PathDashboard, AuthRequired: true, Roles: []models.UserRole{models.RoleTeacher, models.RoleHOD, models.RoleAdmin}},
	{Path: "/teacher-chat", AuthRequired: true, Roles: []models.UserRole{models.RoleTeacher}},
	{Path: "/teacher-approvals", AuthRequired: true, Roles: []models.UserRole{models.RoleHOD, models.RoleAdmin}},
	{Path: "/admin", AuthRequired: true, Roles: []models.UserRole{models.RoleAdmin}},
}

// RouteGuard decides whether a caller may open a front end page
type RouteGuard struct {
	routes map[string]Route
}

func NewRouteGuard() *RouteGuard {
	return NewRouteGuardWithRoutes(portalRoutes)
}

func NewRouteGuardWithRoutes(routes []Route) *RouteGuard {
	g := &RouteGuard{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		g.routes[cleanRoutePath(r.Path)] = r
	}
	return g
}

func cleanRoutePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}

// Check resolves a page request. role is ignored when authenticated is false;
// an authenticated caller without a role is held on profile completion.
func (g *RouteGuard) Check(requested string, authenticated bool, role models.UserRole) RouteDecision {
	p := cleanRoutePath(requested)
	route, ok := g.routes[p]
	if !ok {
		return RouteDecision{Path: p, Redirect: PathNotFound, Reason: RouteUnknown}
	}
	if !route.AuthRequired {
		return RouteDecision{Path: p, Allowed: true, Reason: RouteAllowed}
	}
	if !authenticated {
		return RouteDecision{Path: p, Redirect: PathLogin, Reason: RouteUnauthenticated}
	}
	if role == "" && p != PathCompleteProfile {
		// sessions without a role claim may only finish onboarding
		return RouteDecision{Path: p, Redirect: PathCompleteProfile, Reason: RouteRoleMismatch}
	}
	if !route.admits(role) {
		return RouteDecision{Path: p, Redirect: LandingPathFor(role), Reason: RouteRoleMismatch}
	}
	return RouteDecision{Path: p, Allowed: true, Reason: RouteAllowed}
}

// Routes lists the table sorted by path
func (g *RouteGuard) Routes() []Route {
	out := make([]Route, 0, len(g.routes))
	for _, r := range g.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// LandingPathFor is where a role is sent after login or when it opens a page it may not see
func LandingPathFor(role models.UserRole) string {
	if policy, err := PolicyFor(role); err == nil {
		return policy.LandingPath
	}
	return PathLogin
}
