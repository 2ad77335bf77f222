package core

import (
	"fmt"
	"strings"
)

// Resource names a console resource that permissions are granted on.
type Resource string

const (
	ResourceProject       Resource = "project"
	ResourceEnvironment   Resource = "environment"
	ResourceCloudPlatform Resource = "cloud_platform"
	ResourceCategory      Resource = "category"
	ResourceTag           Resource = "tag"
	ResourceRole          Resource = "role"
	ResourceUser          Resource = "user"
	ResourceSSHKey        Resource = "ssh_key"
	ResourceModule        Resource = "deployment_module"
	ResourceDeployment    Resource = "deployment"
	ResourceTask          Resource = "task"
	ResourceTaskTemplate  Resource = "task_template"
	ResourceTaskExecution Resource = "task_execution"
	ResourceAuditLog      Resource = "audit_log"
)

// Action is an operation on a resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionAll    Action = "*"
)

// Permission is a granted resource:action pair.
type Permission struct {
	Resource Resource
	Action   Action
}

// PermissionKey formats a permission as "resource:action".
func PermissionKey(resource Resource, action Action) string {
	return fmt.Sprintf("%s:%s", resource, action)
}

// String returns the "resource:action" form.
func (p Permission) String() string {
	return PermissionKey(p.Resource, p.Action)
}

// ParsePermission splits a "resource:action" key. The action may itself
// contain colons.
func ParsePermission(key string) (Permission, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("invalid permission %q: expected resource:action", key)
	}
	return Permission{Resource: Resource(parts[0]), Action: Action(parts[1])}, nil
}

// Grants reports whether p covers the requested resource and action.
// "resource:*" covers every action on resource.
func (p Permission) Grants(resource Resource, action Action) bool {
	if p.Resource != resource {
		return false
	}
	return p.Action == ActionAll || p.Action == action
}
