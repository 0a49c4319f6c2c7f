// Package access holds the single role-gate decision applied to every
// protected view, replacing per-view role switches.
package access

import (
	"github.com/careloop/medportal/internal/portal"
	"github.com/careloop/medportal/internal/session"
)

type Decision int

const (
	// DecisionPending: session still hydrating, render a placeholder.
	DecisionPending Decision = iota
	// DecisionDenyUnauthenticated: no identity, send to login.
	DecisionDenyUnauthenticated
	// DecisionDenyForbidden: authenticated but wrong role.
	DecisionDenyForbidden
	// DecisionAllow: render the view.
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionDenyUnauthenticated:
		return "deny-unauthenticated"
	case DecisionDenyForbidden:
		return "deny-forbidden"
	case DecisionAllow:
		return "allow"
	}
	return "unknown"
}

// Decide maps a session snapshot and the view's required roles to exactly one
// outcome. An empty role set means any authenticated role is acceptable.
func Decide(s session.Snapshot, required ...portal.Role) Decision {
	if s.Phase == session.PhaseLoading {
		return DecisionPending
	}
	if s.Phase != session.PhaseActive || s.User == nil {
		return DecisionDenyUnauthenticated
	}
	if len(required) == 0 {
		return DecisionAllow
	}
	for _, r := range required {
		if s.User.Role == r {
			return DecisionAllow
		}
	}
	return DecisionDenyForbidden
}

var landingRoutes = map[portal.Role]string{
	portal.RolePatient: "/dashboard/patient",
	portal.RoleDoctor:  "/dashboard/doctor",
	portal.RoleAdmin:   "/dashboard/admin",
}

// LandingRoute is where a freshly authenticated identity is sent.
func LandingRoute(r portal.Role) string {
	if route, ok := landingRoutes[r]; ok {
		return route
	}
	return "/login"
}
