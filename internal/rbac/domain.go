package rbac

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/odyssey-procure/internal/shared"
)

// Claims is the bearer token payload issued by the identity provider.
type Claims struct {
	UserID int64  `json:"uid"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Actor converts claims into the context actor.
func (c Claims) Actor() shared.Actor {
	return shared.Actor{ID: c.UserID, Name: c.Name, Role: c.Role}
}

// Policy maps a role to the permissions it grants.
type Policy map[string][]string

// DefaultPolicy grants procurement and budget permissions per approver role.
func DefaultPolicy() Policy {
	view := []string{shared.PermProcurementView, shared.PermBudgetView}
	requester := append(append([]string{}, view...), shared.PermProcurementRequestCreate)
	approver := append(append([]string{}, requester...), shared.PermProcurementApprove)
	all := append(append(append([]string{}, shared.ProcurementScopes()...), shared.BudgetScopes()...), shared.PlatformScopes()...)
	return Policy{
		shared.RoleAdmin:             all,
		shared.RoleHeadAdministrator: all,
		shared.RoleFinanceOfficer:    append(append([]string{}, approver...), shared.PermBudgetEdit),
		shared.RoleDepartmentManager: approver,
		shared.RoleProcurementOfficer: append(append([]string{}, requester...),
			shared.PermProcurementPOCreate,
			shared.PermProcurementPOEdit,
			shared.PermProcurementReceiptCreate,
			shared.PermProcurementReceiptInspect,
		),
		shared.RoleEmployee: requester,
	}
}
