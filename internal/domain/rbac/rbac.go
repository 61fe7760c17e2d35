// Package rbac implements the role-based access control policy consulted by
// every mutating operation in the pharmacy core.
package rbac

import "github.com/mypharma/pharmacy-core/internal/domain/errs"

// Role identifies an actor's privilege set. DOCTOR and PHARMACY_ADMIN are
// siblings, not ordered; SUPER_ADMIN is a superset of everything.
type Role string

const (
	RoleSuperAdmin     Role = "SUPER_ADMIN"
	RolePharmacyAdmin  Role = "PHARMACY_ADMIN"
	RoleDoctor         Role = "DOCTOR"
	RoleRegisteredUser Role = "REGISTERED_USER"
	RoleGuest          Role = "GUEST_USER"
)

// AccountStatus mirrors the identity provider's user lifecycle.
type AccountStatus string

const (
	StatusActive              AccountStatus = "ACTIVE"
	StatusInactive            AccountStatus = "INACTIVE"
	StatusLocked              AccountStatus = "LOCKED"
	StatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
)

// Actor is the authenticated caller as supplied by the identity provider.
// Token validation happened upstream; the core trusts these values.
type Actor struct {
	ID     string
	Role   Role
	Status AccountStatus
}

// Action names a guarded operation.
type Action string

const (
	ActionUploadPrescription Action = "prescription.upload"
	ActionVerifyPrescription Action = "prescription.verify"
	ActionViewPrescription   Action = "prescription.view"
	ActionPlaceOrder         Action = "order.place"
	ActionAdvanceOrder       Action = "order.advance"
	ActionCancelOrder        Action = "order.cancel"
	ActionReturnOrder        Action = "order.return"
	ActionViewOrder          Action = "order.view"
	ActionRequestConsult     Action = "consultation.request"
	ActionRespondConsult     Action = "consultation.respond"
	ActionViewConsult        Action = "consultation.view"
	ActionManageCatalog      Action = "catalog.manage"
	ActionManageUsers        Action = "user.manage"
)

// roleGrants lists the actions each role may perform non-owner-scoped.
// SUPER_ADMIN is handled as a blanket allow in Authorize.
var roleGrants = map[Role]map[Action]bool{
	RolePharmacyAdmin: {
		ActionVerifyPrescription: true,
		ActionViewPrescription:   true,
		ActionAdvanceOrder:       true,
		ActionCancelOrder:        true,
		ActionViewOrder:          true,
		ActionManageCatalog:      true,
	},
	RoleDoctor: {
		ActionRespondConsult: true,
		ActionViewConsult:    true,
	},
}

// ownerScoped lists actions a REGISTERED_USER may perform only against
// resources they own. Verification and status advancement never appear here.
var ownerScoped = map[Action]bool{
	ActionUploadPrescription: true,
	ActionViewPrescription:   true,
	ActionPlaceOrder:         true,
	ActionCancelOrder:        true,
	ActionReturnOrder:        true,
	ActionViewOrder:          true,
	ActionRequestConsult:     true,
	ActionViewConsult:        true,
}

// creations are owner-scoped actions that bring the resource into existence,
// so no pre-existing owner can be compared.
var creations = map[Action]bool{
	ActionUploadPrescription: true,
	ActionPlaceOrder:         true,
	ActionRequestConsult:     true,
}

// Policy decides allow/deny for (actor, action, resource owner).
type Policy struct{}

// NewPolicy returns the platform policy.
func NewPolicy() *Policy { return &Policy{} }

// Authorize returns nil when the actor may perform action. For owner-scoped
// actions ownerID must equal the actor id; an empty ownerID fails closed.
func (p *Policy) Authorize(actor Actor, action Action, ownerID string) error {
	deny := &errs.AuthorizationError{Role: string(actor.Role), Action: string(action)}

	if actor.Status != StatusActive {
		return deny
	}

	if actor.Role == RoleSuperAdmin {
		return nil
	}

	if grants, ok := roleGrants[actor.Role]; ok && grants[action] {
		return nil
	}

	// Registered users (and doctors acting as patients) act on own resources.
	if actor.Role == RoleRegisteredUser || actor.Role == RoleDoctor {
		if !ownerScoped[action] {
			return deny
		}
		if creations[action] {
			return nil
		}
		if actor.ID == "" || ownerID == "" || ownerID != actor.ID {
			return deny
		}
		return nil
	}

	// Guests are read-only over the public catalog; nothing here is theirs.
	return deny
}

// IsVerifier reports whether the role may approve or reject prescriptions.
func IsVerifier(role Role) bool {
	return role == RoleSuperAdmin || role == RolePharmacyAdmin
}

// IsOrderManager reports whether the role may advance order status.
func IsOrderManager(role Role) bool {
	return role == RoleSuperAdmin || role == RolePharmacyAdmin
}
