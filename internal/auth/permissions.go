package auth

// Permission codes guarding the administration surface.
const (
	PermPermissionsRead   = "permissions.read"
	PermPermissionsManage = "permissions.manage"
	PermRolesRead         = "roles.read"
	PermRolesManage       = "roles.manage"
	PermRolesAssign       = "roles.assign"
	PermUsersRead         = "users.read"
	PermUsersCreate       = "users.create"
	PermUsersUpdate       = "users.update"
	PermUsersDelete       = "users.delete"
	PermAuditRead         = "audit.read"
)

// DefaultProtectedRole is the code of the top-level administrative role.
const DefaultProtectedRole = "superadmin"

// BuiltinPermissions is the catalog seeded on first migration.
var BuiltinPermissions = []Permission{
	{Code: PermPermissionsRead, Name: "View permission matrix", Module: "permissions"},
	{Code: PermPermissionsManage, Name: "Manage permissions", Module: "permissions"},
	{Code: PermRolesRead, Name: "View roles", Module: "roles"},
	{Code: PermRolesManage, Name: "Manage roles", Module: "roles"},
	{Code: PermRolesAssign, Name: "Assign roles", Module: "roles"},
	{Code: PermUsersRead, Name: "View users", Module: "users"},
	{Code: PermUsersCreate, Name: "Create users", Module: "users"},
	{Code: PermUsersUpdate, Name: "Update users", Module: "users"},
	{Code: PermUsersDelete, Name: "Delete users", Module: "users"},
	{Code: PermAuditRead, Name: "View audit trail", Module: "audit"},
}
