package access

import (
	"testing"

	"github.com/careloop/medportal/internal/portal"
	"github.com/careloop/medportal/internal/session"
)

func snap(phase session.Phase, role portal.Role) session.Snapshot {
	s := session.Snapshot{Phase: phase}
	if phase == session.PhaseActive {
		s.User = &portal.User{ID: "u1", Role: role}
	}
	return s
}

func TestDecide_Table(t *testing.T) {
	tests := []struct {
		name     string
		snapshot session.Snapshot
		required []portal.Role
		want     Decision
	}{
		{"loading is pending regardless of roles", snap(session.PhaseLoading, ""), []portal.Role{portal.RoleAdmin}, DecisionPending},
		{"cleared denies unauthenticated", snap(session.PhaseCleared, ""), nil, DecisionDenyUnauthenticated},
		{"cleared denies even without required roles", snap(session.PhaseCleared, ""), nil, DecisionDenyUnauthenticated},
		{"active with no required roles allows", snap(session.PhaseActive, portal.RolePatient), nil, DecisionAllow},
		{"matching role allows", snap(session.PhaseActive, portal.RoleDoctor), []portal.Role{portal.RoleDoctor}, DecisionAllow},
		{"any of several roles allows", snap(session.PhaseActive, portal.RoleAdmin), []portal.Role{portal.RoleDoctor, portal.RoleAdmin}, DecisionAllow},
		{"wrong role is forbidden", snap(session.PhaseActive, portal.RolePatient), []portal.Role{portal.RoleAdmin}, DecisionDenyForbidden},
		{"patient cannot pass a doctor gate", snap(session.PhaseActive, portal.RolePatient), []portal.Role{portal.RoleDoctor}, DecisionDenyForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.snapshot, tt.required...); got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecide_ActivePhaseWithoutUserDenies(t *testing.T) {
	// An active phase with a nil user should never happen, but the gate must
	// still produce a safe answer.
	s := session.Snapshot{Phase: session.PhaseActive, User: nil}
	if got := Decide(s); got != DecisionDenyUnauthenticated {
		t.Errorf("Decide() = %s, want %s", got, DecisionDenyUnauthenticated)
	}
}

func TestLandingRoute(t *testing.T) {
	tests := []struct {
		role portal.Role
		want string
	}{
		{portal.RolePatient, "/dashboard/patient"},
		{portal.RoleDoctor, "/dashboard/doctor"},
		{portal.RoleAdmin, "/dashboard/admin"},
		{portal.Role("unknown"), "/login"},
	}
	for _, tt := range tests {
		if got := LandingRoute(tt.role); got != tt.want {
			t.Errorf("LandingRoute(%s) = %s, want %s", tt.role, got, tt.want)
		}
	}
}
