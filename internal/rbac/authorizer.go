package rbac

import (
	"github.com/Spok95/school-backend/internal/apperr"
	"github.com/Spok95/school-backend/internal/models"
)

var roleRank = map[models.Role]int{
	models.Student: 1,
	models.Teacher: 2,
	models.Admin:   3,
}

// RoleHierarchyAllows — может ли acting управлять пользователем с ролью target.
// Неизвестная роль имеет ранг 0.
func RoleHierarchyAllows(acting, target models.Role) bool {
	return roleRank[acting] >= roleRank[target]
}

// Authorizer — проверки доступа поверх Registry.
type Authorizer struct {
	reg *Registry
}

func NewAuthorizer(reg *Registry) *Authorizer { return &Authorizer{reg: reg} }

func (a *Authorizer) Registry() *Registry { return a.reg }

func (a *Authorizer) HasPermission(role models.Role, perm string) bool {
	return a.reg.HasPermission(role, perm)
}

func (a *Authorizer) RoleHierarchyAllows(acting, target models.Role) bool {
	return RoleHierarchyAllows(acting, target)
}

// CanAccessResource: право по роли, либо (если разрешено) вызывающий — владелец.
func (a *Authorizer) CanAccessResource(role models.Role, callerID, ownerID int64, perm string, allowOwner bool) bool {
	if a.reg.HasPermission(role, perm) {
		return true
	}
	return allowOwner && callerID == ownerID
}

// CanModify — создатель или admin. Единственная проверка для изменения тестов и вопросов.
func (a *Authorizer) CanModify(actorID int64, actorRole models.Role, ownerID int64) bool {
	return actorRole == models.Admin || actorID == ownerID
}

// Require возвращает apperr.ErrUnauthorized, если у роли нет права.
func (a *Authorizer) Require(role models.Role, perm string) error {
	if !a.reg.HasPermission(role, perm) {
		return apperr.ErrUnauthorized
	}
	return nil
}
