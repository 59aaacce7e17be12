package permission

import "slices"

// Action names accepted by CanPerformAction.
const (
	ActionEditEvaluation     = "edit_evaluation"
	ActionLockEvaluation     = "lock_evaluation"
	ActionOverrideEvaluation = "override_evaluation"
	ActionDeleteComment      = "delete_comment"
	ActionPinComment         = "pin_comment"
	ActionModerateComment    = "moderate_comment"
	ActionExportData         = "export_data"
	ActionInviteCollaborator = "invite_collaborator"
	ActionRemoveCollaborator = "remove_collaborator"
	ActionChangeRole         = "change_role"
)

// actionTable maps each known action to the capability check behind it.
var actionTable = map[string]func(*Engine) bool{
	ActionEditEvaluation:     (*Engine).CanEvaluate,
	ActionLockEvaluation:     (*Engine).CanLockEvaluations,
	ActionOverrideEvaluation: (*Engine).CanOverrideEvaluations,
	ActionDeleteComment:      (*Engine).CanDeleteComments,
	ActionPinComment:         (*Engine).CanPinComments,
	ActionModerateComment:    (*Engine).CanModerateComments,
	ActionExportData: func(e *Engine) bool {
		return e.CanExportEvaluations() || e.CanExportReports()
	},
	ActionInviteCollaborator: (*Engine).CanInviteOthers,
	ActionRemoveCollaborator: (*Engine).CanRemoveCollaborators,
	ActionChangeRole:         (*Engine).CanChangeCollaboratorRoles,
}

// Actions lists the action names CanPerformAction recognizes, sorted.
func Actions() []string {
	names := make([]string, 0, len(actionTable))
	for name := range actionTable {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Engine answers capability questions for one collaborator snapshot.
type Engine struct {
	role  Role
	grant Grant
}

// New builds an engine from a role and grant. The grant is copied.
func New(role Role, grant Grant) *Engine {
	return &Engine{role: role, grant: grant.Clone()}
}

// Role returns the role the engine was built with.
func (e *Engine) Role() Role { return e.role }

// Grant returns a copy of the underlying grant.
func (e *Engine) Grant() Grant { return e.grant.Clone() }

// IsOwner reports whether the collaborator owns the assessment.
func (e *Engine) IsOwner() bool { return e.role == RoleOwner }

func (e *Engine) CanEdit() bool         { return e.grant.CanEdit }
func (e *Engine) CanEvaluate() bool     { return e.grant.CanEvaluate }
func (e *Engine) CanInviteOthers() bool { return e.grant.CanInviteOthers }
func (e *Engine) CanViewReports() bool  { return e.grant.CanViewReports }
func (e *Engine) CanComment() bool      { return e.grant.CanComment }

func (e *Engine) CanEditAssessmentDetails() bool { return e.grant.CanEditAssessmentDetails }
func (e *Engine) CanDeleteAssessment() bool      { return e.grant.CanDeleteAssessment }
func (e *Engine) CanChangeDueDate() bool         { return e.grant.CanChangeDueDate }
func (e *Engine) CanModifyInstructions() bool    { return e.grant.CanModifyInstructions }

// Evaluation sub-capabilities are inert without CanEvaluate.

func (e *Engine) CanEvaluateAllSections() bool {
	return e.grant.CanEvaluate && e.grant.CanEvaluateAllSections
}

func (e *Engine) CanOverrideEvaluations() bool {
	return e.grant.CanEvaluate && e.grant.CanOverrideEvaluations
}

func (e *Engine) CanLockEvaluations() bool {
	return e.grant.CanEvaluate && e.grant.CanLockEvaluations
}

func (e *Engine) CanViewOtherEvaluations() bool { return e.grant.CanViewOtherEvaluations }
func (e *Engine) CanExportEvaluations() bool    { return e.grant.CanExportEvaluations }

// CanEvaluateSection reports whether the collaborator may evaluate the given
// section. The all-sections flag wins over the explicit section list.
func (e *Engine) CanEvaluateSection(sectionID string) bool {
	if !e.CanEvaluate() {
		return false
	}
	if e.grant.CanEvaluateAllSections {
		return true
	}
	if sectionID == "" {
		return false
	}
	return slices.Contains(e.grant.EvaluableSectionIDs, sectionID)
}

func (e *Engine) CanRemoveCollaborators() bool     { return e.grant.CanRemoveCollaborators }
func (e *Engine) CanChangeCollaboratorRoles() bool { return e.grant.CanChangeCollaboratorRoles }
func (e *Engine) CanModerateComments() bool        { return e.grant.CanModerateComments }
func (e *Engine) CanDeleteComments() bool          { return e.grant.CanDeleteComments }
func (e *Engine) CanPinComments() bool             { return e.grant.CanPinComments }

func (e *Engine) CanGenerateReports() bool       { return e.grant.CanGenerateReports }
func (e *Engine) CanExportReports() bool         { return e.grant.CanExportReports }
func (e *Engine) CanShareReports() bool          { return e.grant.CanShareReports }
func (e *Engine) CanViewDetailedAnalytics() bool { return e.grant.CanViewDetailedAnalytics }

func (e *Engine) CanArchiveAssessment() bool      { return e.grant.CanArchiveAssessment }
func (e *Engine) CanDuplicateAssessment() bool    { return e.grant.CanDuplicateAssessment }
func (e *Engine) CanCreateTemplate() bool         { return e.grant.CanCreateTemplate }
func (e *Engine) CanSeeLiveCollaboration() bool   { return e.grant.CanSeeLiveCollaboration }
func (e *Engine) CanSendNotifications() bool      { return e.grant.CanSendNotifications }
func (e *Engine) CanBroadcastNotifications() bool { return e.grant.CanBroadcastNotifications }

// CanPerformAction dispatches a named action. Unknown names are denied.
func (e *Engine) CanPerformAction(action string) bool {
	check, ok := actionTable[action]
	if !ok {
		return false
	}
	return check(e)
}

// HasAnyEvaluationPermission reports whether any evaluation capability is live.
func (e *Engine) HasAnyEvaluationPermission() bool {
	return e.CanEvaluate() ||
		e.CanOverrideEvaluations() ||
		e.CanLockEvaluations() ||
		e.CanViewOtherEvaluations() ||
		e.CanExportEvaluations()
}

// HasAnyCollaborationPermission reports whether the collaborator can manage
// people or comments.
func (e *Engine) HasAnyCollaborationPermission() bool {
	return e.CanInviteOthers() ||
		e.CanRemoveCollaborators() ||
		e.CanChangeCollaboratorRoles() ||
		e.CanModerateComments() ||
		e.CanDeleteComments() ||
		e.CanPinComments()
}

// HasAnyReportingPermission reports whether any report capability is granted.
func (e *Engine) HasAnyReportingPermission() bool {
	return e.CanViewReports() ||
		e.CanGenerateReports() ||
		e.CanExportReports() ||
		e.CanShareReports() ||
		e.CanViewDetailedAnalytics()
}

// HasAdministrativePermissions reports whether the collaborator can change
// the assessment itself.
func (e *Engine) HasAdministrativePermissions() bool {
	return e.CanEditAssessmentDetails() ||
		e.CanDeleteAssessment() ||
		e.CanChangeDueDate() ||
		e.CanModifyInstructions() ||
		e.CanArchiveAssessment() ||
		e.CanDuplicateAssessment() ||
		e.CanCreateTemplate() ||
		e.CanBroadcastNotifications()
}
