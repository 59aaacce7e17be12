// Package permission decides what a collaborator may do on an assessment.
//
// Everything here is pure: no storage, no clocks, no errors. An Engine is
// built from one membership snapshot and answers questions about it until
// it is thrown away.
package permission

import "slices"

// Grant is the fixed set of capabilities attached to a collaborator.
type Grant struct {
	// core
	CanEdit         bool `json:"can_edit"`
	CanEvaluate     bool `json:"can_evaluate"`
	CanInviteOthers bool `json:"can_invite_others"`
	CanViewReports  bool `json:"can_view_reports"`
	CanComment      bool `json:"can_comment"`

	// assessment details
	CanEditAssessmentDetails bool `json:"can_edit_assessment_details"`
	CanDeleteAssessment      bool `json:"can_delete_assessment"`
	CanChangeDueDate         bool `json:"can_change_due_date"`
	CanModifyInstructions    bool `json:"can_modify_instructions"`

	// evaluation management
	CanEvaluateAllSections  bool     `json:"can_evaluate_all_sections"`
	EvaluableSectionIDs     []string `json:"evaluable_section_ids"`
	CanOverrideEvaluations  bool     `json:"can_override_evaluations"`
	CanLockEvaluations      bool     `json:"can_lock_evaluations"`
	CanViewOtherEvaluations bool     `json:"can_view_other_evaluations"`
	CanExportEvaluations    bool     `json:"can_export_evaluations"`

	// collaboration management
	CanRemoveCollaborators     bool `json:"can_remove_collaborators"`
	CanChangeCollaboratorRoles bool `json:"can_change_collaborator_roles"`
	CanModerateComments        bool `json:"can_moderate_comments"`
	CanDeleteComments          bool `json:"can_delete_comments"`
	CanPinComments             bool `json:"can_pin_comments"`

	// reporting
	CanGenerateReports       bool `json:"can_generate_reports"`
	CanExportReports         bool `json:"can_export_reports"`
	CanShareReports          bool `json:"can_share_reports"`
	CanViewDetailedAnalytics bool `json:"can_view_detailed_analytics"`

	// administrative
	CanArchiveAssessment      bool `json:"can_archive_assessment"`
	CanDuplicateAssessment    bool `json:"can_duplicate_assessment"`
	CanCreateTemplate         bool `json:"can_create_template"`
	CanSeeLiveCollaboration   bool `json:"can_see_live_collaboration"`
	CanSendNotifications      bool `json:"can_send_notifications"`
	CanBroadcastNotifications bool `json:"can_broadcast_notifications"`
}

// Clone returns a copy that shares no memory with g.
func (g Grant) Clone() Grant {
	g.EvaluableSectionIDs = slices.Clone(g.EvaluableSectionIDs)
	return g
}
