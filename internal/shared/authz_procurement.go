package shared

// Procurement permissions.
const (
	PermProcurementView           = "procurement.view"
	PermProcurementRequestCreate  = "procurement.request.create"
	PermProcurementApprove        = "procurement.approve"
	PermProcurementPOCreate       = "procurement.po.create"
	PermProcurementPOEdit         = "procurement.po.edit"
	PermProcurementReceiptCreate  = "procurement.receipt.create"
	PermProcurementReceiptInspect = "procurement.receipt.inspect"
)

// Budget permissions.
const (
	PermBudgetView = "budget.view"
	PermBudgetEdit = "budget.edit"
)

// Approver and platform roles carried in the identity token.
const (
	RoleAdmin              = "admin"
	RoleHeadAdministrator  = "head_administrator"
	RoleFinanceOfficer     = "finance_officer"
	RoleDepartmentManager  = "department_manager"
	RoleProcurementOfficer = "procurement_officer"
	RoleEmployee           = "employee"
)

// ProcurementScopes lists all permissions related to procurement.
func ProcurementScopes() []string {
	return []string{
		PermProcurementView,
		PermProcurementRequestCreate,
		PermProcurementApprove,
		PermProcurementPOCreate,
		PermProcurementPOEdit,
		PermProcurementReceiptCreate,
		PermProcurementReceiptInspect,
	}
}

// BudgetScopes lists all permissions related to the budget ledger.
func BudgetScopes() []string {
	return []string{PermBudgetView, PermBudgetEdit}
}
