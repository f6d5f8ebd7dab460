package shared

// Warehouse permissions declared for RBAC.
const (
	// Fulfillment task permissions
	PermFulfillmentView     = "wms.fulfillment.view"
	PermFulfillmentDispatch = "wms.fulfillment.dispatch"
	PermFulfillmentPick     = "wms.fulfillment.pick"
	PermFulfillmentInspect  = "wms.fulfillment.inspect"
	PermFulfillmentDelete   = "wms.fulfillment.delete"

	// Staff notification permissions
	PermNotificationView   = "wms.notification.view"
	PermNotificationManage = "wms.notification.manage"

	// KPI permissions
	PermKPIView = "wms.kpi.view"

	// Requisition permissions
	PermRequisitionView    = "wms.requisition.view"
	PermRequisitionCreate  = "wms.requisition.create"
	PermRequisitionApprove = "wms.requisition.approve"

	// Borrow permissions
	PermBorrowView     = "wms.borrow.view"
	PermBorrowCreate   = "wms.borrow.create"
	PermBorrowApprove  = "wms.borrow.approve"
	PermBorrowReturn   = "wms.borrow.return"
	PermBorrowWriteOff = "wms.borrow.write_off"

	// Return permissions
	PermReturnView    = "wms.return.view"
	PermReturnCreate  = "wms.return.create"
	PermReturnApprove = "wms.return.approve"

	// Inventory ledger permissions
	PermInventoryView   = "wms.inventory.view"
	PermInventoryAdjust = "wms.inventory.adjust"
)

// FulfillmentScopes lists permissions for picking and inspection.
func FulfillmentScopes() []string {
	return []string{
		PermFulfillmentView,
		PermFulfillmentDispatch,
		PermFulfillmentPick,
		PermFulfillmentInspect,
		PermFulfillmentDelete,
		PermNotificationView,
		PermNotificationManage,
		PermKPIView,
	}
}

// WorkflowScopes lists permissions for requisition, borrow and return workflows.
func WorkflowScopes() []string {
	return []string{
		PermRequisitionView,
		PermRequisitionCreate,
		PermRequisitionApprove,
		PermBorrowView,
		PermBorrowCreate,
		PermBorrowApprove,
		PermBorrowReturn,
		PermBorrowWriteOff,
		PermReturnView,
		PermReturnCreate,
		PermReturnApprove,
	}
}

// InventoryScopes lists ledger permissions.
func InventoryScopes() []string {
	return []string{
		PermInventoryView,
		PermInventoryAdjust,
	}
}

// AllScopes lists every warehouse permission.
func AllScopes() []string {
	scopes := append([]string{}, FulfillmentScopes()...)
	scopes = append(scopes, WorkflowScopes()...)
	return append(scopes, InventoryScopes()...)
}
