package rbac

import (
	"fmt"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// ErrForbidden indicates the actor's role does not grant the permission.
var ErrForbidden = fmt.Errorf("rbac: permission denied: %w", shared.ErrForbidden)

// Policy maps a role to its granted permissions.
type Policy map[shared.Role][]string

// Grant pairs a role with a permission as stored in role_permissions.
type Grant struct {
	Role       shared.Role
	Permission string
}

// DefaultPolicy mirrors the warehouse roles: approvals for admin-class roles,
// picking for pickers, inspection for QC roles.
func DefaultPolicy() Policy {
	approver := append([]string{}, shared.AllScopes()...)
	submitter := []string{
		shared.PermRequisitionView, shared.PermRequisitionCreate,
		shared.PermBorrowView, shared.PermBorrowCreate,
		shared.PermReturnView, shared.PermReturnCreate,
		shared.PermInventoryView,
	}
	picker := append([]string{
		shared.PermFulfillmentView,
		shared.PermFulfillmentPick,
		shared.PermNotificationView,
	}, submitter...)
	inspector := append([]string{
		shared.PermFulfillmentView,
		shared.PermFulfillmentInspect,
		shared.PermNotificationView,
		shared.PermKPIView,
	}, submitter...)
	return Policy{
		shared.RoleSuperAdmin:   approver,
		shared.RoleAdmin:        approver,
		shared.RoleManager:      approver,
		shared.RoleAdminQC:      inspector,
		shared.RoleQCStaff:      inspector,
		shared.RolePicker:       picker,
		shared.RoleProduction:   submitter,
		shared.RoleStore:        submitter,
		shared.RoleAccount:      submitter,
		shared.RolePackingStaff: submitter,
		shared.RoleAuditor:      {shared.PermKPIView, shared.PermInventoryView, shared.PermRequisitionView, shared.PermBorrowView, shared.PermReturnView},
	}
}
