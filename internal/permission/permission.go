// Package permission answers resource/action grant questions for an
// operator role. Grants are a static table; nothing here has state.
package permission

import "github.com/laundryhub/api/internal/enum"

// Checker reports whether role may perform action on resource.
type Checker interface {
	Allowed(role, resource, action string) bool
}

// Grants maps role -> resource -> allowed actions.
type Grants map[string]map[string][]string

// Allowed implements Checker.
func (g Grants) Allowed(role, resource, action string) bool {
	for _, a := range g[role][resource] {
		if a == action {
			return true
		}
	}
	return false
}

// Default is the grant table used by the order store. Staff can archive but
// only managers and owners can bring an archived order back.
var Default = Grants{
	enum.OperatorRoleOwner: {
		enum.ResourceOrders: {enum.ActionArchive, enum.ActionUnarchive},
	},
	enum.OperatorRoleManager: {
		enum.ResourceOrders: {enum.ActionArchive, enum.ActionUnarchive},
	},
	enum.OperatorRoleStaff: {
		enum.ResourceOrders: {enum.ActionArchive},
	},
}
