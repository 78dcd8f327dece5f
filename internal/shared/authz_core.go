package shared

// Platform permissions.
const (
	PermPermissionsView = "permissions.view"
)

// PlatformScopes lists permissions that are not tied to a business module.
func PlatformScopes() []string {
	return []string{PermPermissionsView}
}
