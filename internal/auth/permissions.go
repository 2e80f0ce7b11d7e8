package auth

// Permission is an opaque capability token. Permissions carry no hierarchy;
// grouping happens only in the Matrix.
type Permission string

const (
	PermViewFeed          Permission = "view:feed"
	PermViewReports       Permission = "view:reports"
	PermViewAdminPanel    Permission = "view:admin_panel"
	PermViewAuditLog      Permission = "view:audit_log"
	PermViewCrisisControl Permission = "view:crisis_control"

	PermSubmitReport   Permission = "action:submit_report"
	PermVote           Permission = "action:vote"
	PermComment        Permission = "action:comment"
	PermFileRTI        Permission = "action:file_rti"
	PermModerate       Permission = "action:moderate"
	PermVerifyEvidence Permission = "action:verify_evidence"
	PermManageUsers    Permission = "action:manage_users"
	PermManageCrisis   Permission = "action:manage_crisis"
	PermUnlockIdentity Permission = "action:unlock_identity"
)

// PermissionInfo documents a built-in permission.
type PermissionInfo struct {
	Key         Permission `json:"key"`
	Description string     `json:"description"`
}

var BuiltinPermissions = []PermissionInfo{
	{Key: PermViewFeed, Description: "Read the public accountability feed"},
	{Key: PermViewReports, Description: "Read submitted reports"},
	{Key: PermViewAdminPanel, Description: "Open the administrative panel"},
	{Key: PermViewAuditLog, Description: "Read the crisis audit trail"},
	{Key: PermViewCrisisControl, Description: "See crisis control state"},
	{Key: PermSubmitReport, Description: "Submit a report"},
	{Key: PermVote, Description: "Vote on reports and petitions"},
	{Key: PermComment, Description: "Comment on public items"},
	{Key: PermFileRTI, Description: "File right-to-information requests"},
	{Key: PermModerate, Description: "Moderate reports and comments"},
	{Key: PermVerifyEvidence, Description: "Verify evidence in the vault"},
	{Key: PermManageUsers, Description: "Manage user accounts and roles"},
	{Key: PermManageCrisis, Description: "Change crisis mode and system overrides"},
	{Key: PermUnlockIdentity, Description: "Reveal the identity behind an anonymous report"},
}
