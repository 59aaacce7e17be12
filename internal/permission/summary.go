package permission

// Item is one capability in a summary.
type Item struct {
	Name        string `json:"name"`
	Granted     bool   `json:"granted"`
	Description string `json:"description"`
}

// Category groups related capabilities in a summary.
type Category struct {
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Summary category names, in output order.
const (
	CategoryCore                    = "Core"
	CategoryEvaluationManagement    = "Evaluation Management"
	CategoryCollaborationManagement = "Collaboration Management"
	CategoryAdministrative          = "Administrative"
)

type summaryEntry struct {
	name        string
	description string
	granted     func(*Engine) bool
}

var summaryLayout = []struct {
	category string
	entries  []summaryEntry
}{
	{CategoryCore, []summaryEntry{
		{"can_edit", "Edit assessment content", (*Engine).CanEdit},
		{"can_evaluate", "Submit evaluations", (*Engine).CanEvaluate},
		{"can_invite_others", "Invite other collaborators", (*Engine).CanInviteOthers},
		{"can_view_reports", "View assessment reports", (*Engine).CanViewReports},
		{"can_comment", "Add comments", (*Engine).CanComment},
	}},
	{CategoryEvaluationManagement, []summaryEntry{
		{"can_evaluate_all_sections", "Evaluate every section", (*Engine).CanEvaluateAllSections},
		{"can_override_evaluations", "Override other evaluations", (*Engine).CanOverrideEvaluations},
		{"can_lock_evaluations", "Lock evaluations against edits", (*Engine).CanLockEvaluations},
		{"can_view_other_evaluations", "View evaluations by others", (*Engine).CanViewOtherEvaluations},
		{"can_export_evaluations", "Export evaluations", (*Engine).CanExportEvaluations},
	}},
	{CategoryCollaborationManagement, []summaryEntry{
		{"can_remove_collaborators", "Remove collaborators", (*Engine).CanRemoveCollaborators},
		{"can_change_collaborator_roles", "Change collaborator roles", (*Engine).CanChangeCollaboratorRoles},
		{"can_moderate_comments", "Moderate comments", (*Engine).CanModerateComments},
		{"can_delete_comments", "Delete comments", (*Engine).CanDeleteComments},
		{"can_pin_comments", "Pin comments", (*Engine).CanPinComments},
		{"can_see_live_collaboration", "See who is collaborating live", (*Engine).CanSeeLiveCollaboration},
		{"can_send_notifications", "Send notifications to collaborators", (*Engine).CanSendNotifications},
		{"can_broadcast_notifications", "Broadcast notifications to everyone", (*Engine).CanBroadcastNotifications},
	}},
	{CategoryAdministrative, []summaryEntry{
		{"can_edit_assessment_details", "Edit assessment details", (*Engine).CanEditAssessmentDetails},
		{"can_delete_assessment", "Delete the assessment", (*Engine).CanDeleteAssessment},
		{"can_change_due_date", "Change the due date", (*Engine).CanChangeDueDate},
		{"can_modify_instructions", "Modify instructions", (*Engine).CanModifyInstructions},
		{"can_archive_assessment", "Archive the assessment", (*Engine).CanArchiveAssessment},
		{"can_duplicate_assessment", "Duplicate the assessment", (*Engine).CanDuplicateAssessment},
		{"can_create_template", "Save the assessment as a template", (*Engine).CanCreateTemplate},
		{"can_generate_reports", "Generate reports", (*Engine).CanGenerateReports},
		{"can_export_reports", "Export reports", (*Engine).CanExportReports},
		{"can_share_reports", "Share reports", (*Engine).CanShareReports},
		{"can_view_detailed_analytics", "View detailed analytics", (*Engine).CanViewDetailedAnalytics},
	}},
}

// Summarize lists every capability grouped into the four fixed categories.
// Order is stable across calls. Granted values are the effective ones, so
// gated evaluation flags show false when evaluation is off.
func (e *Engine) Summarize() []Category {
	out := make([]Category, 0, len(summaryLayout))
	for _, group := range summaryLayout {
		items := make([]Item, 0, len(group.entries))
		for _, entry := range group.entries {
			items = append(items, Item{
				Name:        entry.name,
				Granted:     entry.granted(e),
				Description: entry.description,
			})
		}
		out = append(out, Category{Name: group.category, Items: items})
	}
	return out
}
