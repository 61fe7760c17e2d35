package rbac

import (
	"errors"
	"testing"

	"github.com/mypharma/pharmacy-core/internal/domain/errs"
)

func active(id string, role Role) Actor {
	return Actor{ID: id, Role: role, Status: StatusActive}
}

func TestAuthorizeRoleMatrix(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		action  Action
		ownerID string
		allow   bool
	}{
		{"super admin anything", active("sa", RoleSuperAdmin), ActionManageUsers, "", true},
		{"pharmacy admin verifies", active("pa", RolePharmacyAdmin), ActionVerifyPrescription, "", true},
		{"pharmacy admin advances orders", active("pa", RolePharmacyAdmin), ActionAdvanceOrder, "", true},
		{"pharmacy admin manages catalog", active("pa", RolePharmacyAdmin), ActionManageCatalog, "", true},
		{"pharmacy admin cannot manage users", active("pa", RolePharmacyAdmin), ActionManageUsers, "", false},
		{"doctor cannot verify", active("dr", RoleDoctor), ActionVerifyPrescription, "", false},
		{"doctor responds to consults", active("dr", RoleDoctor), ActionRespondConsult, "", true},
		{"doctor orders as patient", active("dr", RoleDoctor), ActionPlaceOrder, "", true},
		{"user uploads own prescription", active("u1", RoleRegisteredUser), ActionUploadPrescription, "", true},
		{"user views own order", active("u1", RoleRegisteredUser), ActionViewOrder, "u1", true},
		{"user cannot view another's order", active("u1", RoleRegisteredUser), ActionViewOrder, "u2", false},
		{"user cannot advance orders", active("u1", RoleRegisteredUser), ActionAdvanceOrder, "u1", false},
		{"user cancels own order", active("u1", RoleRegisteredUser), ActionCancelOrder, "u1", true},
		{"guest cannot place orders", Actor{Role: RoleGuest, Status: StatusActive}, ActionPlaceOrder, "", false},
		{"guest cannot upload", Actor{Role: RoleGuest, Status: StatusActive}, ActionUploadPrescription, "", false},
	}

	p := NewPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Authorize(tt.actor, tt.action, tt.ownerID)
			if tt.allow && err != nil {
				t.Errorf("expected allow, got %v", err)
			}
			if !tt.allow {
				var ae *errs.AuthorizationError
				if !errors.As(err, &ae) {
					t.Errorf("expected AuthorizationError, got %v", err)
				}
			}
		})
	}
}

func TestAuthorizeDeniesInactiveAccounts(t *testing.T) {
	p := NewPolicy()
	for _, status := range []AccountStatus{StatusInactive, StatusLocked, StatusPendingVerification} {
		actor := Actor{ID: "u1", Role: RoleSuperAdmin, Status: status}
		if err := p.Authorize(actor, ActionViewOrder, "u1"); err == nil {
			t.Errorf("status %s was allowed", status)
		}
	}
}

func TestAuthorizeFailsClosedOnEmptyOwner(t *testing.T) {
	p := NewPolicy()
	// Owner-scoped reads against a resource with no resolvable owner deny.
	if err := p.Authorize(active("u1", RoleRegisteredUser), ActionViewOrder, ""); err == nil {
		t.Error("empty owner id was allowed")
	}
}

func TestHelpers(t *testing.T) {
	if !IsVerifier(RoleSuperAdmin) || !IsVerifier(RolePharmacyAdmin) {
		t.Error("admins must verify")
	}
	if IsVerifier(RoleDoctor) || IsVerifier(RoleRegisteredUser) {
		t.Error("non-admins must not verify")
	}
	if !IsOrderManager(RolePharmacyAdmin) || IsOrderManager(RoleDoctor) {
		t.Error("order manager roles wrong")
	}
}
