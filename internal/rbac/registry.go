// Package rbac — таблица «роль → права» и проверки доступа поверх неё.
package rbac

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Spok95/school-backend/internal/models"
)

// Wildcard — все права сразу.
const Wildcard = "*"

var permissionRe = regexp.MustCompile(`^[a-z]+:[a-z]+$`)

// IsValidPermissionString — "resource:action" или "*".
func IsValidPermissionString(s string) bool {
	return s == Wildcard || permissionRe.MatchString(s)
}

var studentPermissions = []string{
	"profile:read",
	"profile:update",
	"content:read",
	"assessment:take",
	"assignment:submit",
	"notification:read",
	"gamification:read",
	"progress:read",
}

var teacherPermissions = []string{
	"profile:read",
	"profile:update",
	"content:create",
	"content:read",
	"content:update",
	"content:delete",
	"assessment:create",
	"assessment:read",
	"assessment:update",
	"assessment:delete",
	"assignment:create",
	"assignment:read",
	"assignment:update",
	"assignment:delete",
	"assignment:grade",
	"student:read",
	"student:track",
	"notification:send",
	"analytics:view",
	"class:manage",
}

// DefaultPermissions — исходная таблица; каждый вызов возвращает свежую копию.
func DefaultPermissions() map[models.Role][]string {
	return map[models.Role][]string{
		models.Student: slices.Clone(studentPermissions),
		models.Teacher: slices.Clone(teacherPermissions),
		models.Admin:   {Wildcard},
	}
}

// Registry — изменяемая во время работы таблица прав. Безопасна для конкурентного использования.
type Registry struct {
	mu    sync.RWMutex
	perms map[models.Role][]string
}

func NewRegistry() *Registry {
	return &Registry{perms: DefaultPermissions()}
}

// HasPermission: право есть в наборе роли, либо у роли есть "*".
func (r *Registry) HasPermission(role models.Role, perm string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.perms[role]
	return slices.Contains(set, Wildcard) || slices.Contains(set, perm)
}

func (r *Registry) HasAll(role models.Role, perms ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.perms[role]
	if slices.Contains(set, Wildcard) {
		return true
	}
	for _, p := range perms {
		if !slices.Contains(set, p) {
			return false
		}
	}
	return true
}

func (r *Registry) HasAny(role models.Role, perms ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.perms[role]
	if slices.Contains(set, Wildcard) {
		return true
	}
	for _, p := range perms {
		if slices.Contains(set, p) {
			return true
		}
	}
	return false
}

// AddPermission идемпотентен.
func (r *Registry) AddPermission(role models.Role, perm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.perms[role], perm) {
		r.perms[role] = append(r.perms[role], perm)
	}
}

// RemovePermission идемпотентен. Снятие права с admin ничего не меняет в проверках, пока у него "*".
func (r *Registry) RemovePermission(role models.Role, perm string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.perms[role] = slices.DeleteFunc(r.perms[role], func(p string) bool { return p == perm })
}

// SetRolePermissions заменяет набор роли целиком; дубликаты отбрасываются с сохранением порядка.
func (r *Registry) SetRolePermissions(role models.Role, perms []string) {
	set := dedupe(perms)
	r.mu.Lock()
	r.perms[role] = set
	r.mu.Unlock()
}

func dedupe(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// RolePermissions — копия набора роли.
func (r *Registry) RolePermissions(role models.Role) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.perms[role])
}

func (r *Registry) ResetToDefaults() {
	r.mu.Lock()
	r.perms = DefaultPermissions()
	r.mu.Unlock()
}

type ValidationResult struct {
	IsValid bool     `json:"isValid"`
	Errors  []string `json:"errors"`
}

// ValidateConfiguration не паникует: ошибки конфигурации возвращаются списком.
func (r *Registry) ValidateConfiguration() ValidationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return validate(r.perms)
}

func validate(perms map[models.Role][]string) ValidationResult {
	roles := []models.Role{models.Student, models.Teacher, models.Admin}
	var extra []models.Role
	for role := range perms {
		if !slices.Contains(roles, role) {
			extra = append(extra, role)
		}
	}
	slices.Sort(extra)
	roles = append(roles, extra...)

	var errs []string
	for _, role := range roles {
		set := perms[role]
		if len(set) == 0 {
			errs = append(errs, fmt.Sprintf("role %q has no permissions", role))
			continue
		}
		for _, p := range set {
			if !IsValidPermissionString(p) {
				errs = append(errs, fmt.Sprintf("role %q: invalid permission %q", role, p))
			}
		}
	}
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

type yamlTable struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadYAML накладывает переопределения из документа вида
//
//	roles:
//	  teacher: [content:read, assessment:create]
//
// Роли, не упомянутые в файле, сохраняют текущий набор. Невалидная итоговая таблица не применяется.
func (r *Registry) LoadYAML(src io.Reader) error {
	var doc yamlTable
	if err := yaml.NewDecoder(src).Decode(&doc); err != nil && err != io.EOF {
		return fmt.Errorf("decode permissions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[models.Role][]string, len(r.perms))
	for role, set := range r.perms {
		next[role] = slices.Clone(set)
	}
	for name, set := range doc.Roles {
		role := models.Role(name)
		if !role.Valid() {
			return fmt.Errorf("permissions file: unknown role %q", name)
		}
		next[role] = dedupe(set)
	}
	if res := validate(next); !res.IsValid {
		return fmt.Errorf("permissions file: %v", res.Errors)
	}
	r.perms = next
	return nil
}
