package permission

import "slices"

// Role is the collaborator's role on an assessment. The engine only uses it
// to pick default grants and to answer IsOwner.
type Role string

const (
	RoleOwner         Role = "owner"
	RoleLeadEvaluator Role = "lead_evaluator"
	RoleEvaluator     Role = "evaluator"
	RoleObserver      Role = "observer"
	RoleCandidate     Role = "candidate"
)

var validRoles = []Role{
	RoleOwner,
	RoleLeadEvaluator,
	RoleEvaluator,
	RoleObserver,
	RoleCandidate,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(validRoles, r)
}

// DefaultGrant returns the grant a collaborator gets when no explicit grant
// is supplied. Unknown roles get nothing.
func DefaultGrant(role Role) Grant {
	switch role {
	case RoleOwner:
		return Grant{
			CanEdit:                    true,
			CanEvaluate:                true,
			CanInviteOthers:            true,
			CanViewReports:             true,
			CanComment:                 true,
			CanEditAssessmentDetails:   true,
			CanDeleteAssessment:        true,
			CanChangeDueDate:           true,
			CanModifyInstructions:      true,
			CanEvaluateAllSections:     true,
			CanOverrideEvaluations:     true,
			CanLockEvaluations:         true,
			CanViewOtherEvaluations:    true,
			CanExportEvaluations:       true,
			CanRemoveCollaborators:     true,
			CanChangeCollaboratorRoles: true,
			CanModerateComments:        true,
			CanDeleteComments:          true,
			CanPinComments:             true,
			CanGenerateReports:         true,
			CanExportReports:           true,
			CanShareReports:            true,
			CanViewDetailedAnalytics:   true,
			CanArchiveAssessment:       true,
			CanDuplicateAssessment:     true,
			CanCreateTemplate:          true,
			CanSeeLiveCollaboration:    true,
			CanSendNotifications:       true,
			CanBroadcastNotifications:  true,
		}
	case RoleLeadEvaluator:
		return Grant{
			CanEdit:                 true,
			CanEvaluate:             true,
			CanInviteOthers:         true,
			CanViewReports:          true,
			CanComment:              true,
			CanChangeDueDate:        true,
			CanEvaluateAllSections:  true,
			CanOverrideEvaluations:  true,
			CanLockEvaluations:      true,
			CanViewOtherEvaluations: true,
			CanExportEvaluations:    true,
			CanModerateComments:     true,
			CanPinComments:          true,
			CanGenerateReports:      true,
			CanExportReports:        true,
			CanSeeLiveCollaboration: true,
			CanSendNotifications:    true,
		}
	case RoleEvaluator:
		return Grant{
			CanEvaluate:             true,
			CanViewReports:          true,
			CanComment:              true,
			CanEvaluateAllSections:  true,
			CanSeeLiveCollaboration: true,
		}
	case RoleObserver:
		return Grant{
			CanViewReports:          true,
			CanComment:              true,
			CanSeeLiveCollaboration: true,
		}
	case RoleCandidate:
		return Grant{
			CanComment: true,
		}
	default:
		return Grant{}
	}
}
