package permission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanPerformActionFailsClosed(t *testing.T) {
	owner := New(RoleOwner, DefaultGrant(RoleOwner))

	for _, action := range []string{"", "drop_table", "EDIT_EVALUATION", "edit_evaluation ", "delete_assessment"} {
		assert.False(t, owner.CanPerformAction(action), "action %q must be denied", action)
	}
	for _, action := range Actions() {
		assert.True(t, owner.CanPerformAction(action), "owner should be allowed %q", action)
	}
}

func TestCanPerformActionDispatch(t *testing.T) {
	tests := []struct {
		action string
		grant  Grant
		want   bool
	}{
		{ActionEditEvaluation, Grant{CanEvaluate: true}, true},
		{ActionEditEvaluation, Grant{CanEdit: true}, false},
		{ActionLockEvaluation, Grant{CanLockEvaluations: true}, false},
		{ActionLockEvaluation, Grant{CanEvaluate: true, CanLockEvaluations: true}, true},
		{ActionOverrideEvaluation, Grant{CanEvaluate: true, CanOverrideEvaluations: true}, true},
		{ActionOverrideEvaluation, Grant{CanOverrideEvaluations: true}, false},
		{ActionDeleteComment, Grant{CanDeleteComments: true}, true},
		{ActionPinComment, Grant{CanPinComments: true}, true},
		{ActionModerateComment, Grant{CanModerateComments: true}, true},
		{ActionModerateComment, Grant{CanDeleteComments: true}, false},
		{ActionExportData, Grant{CanExportEvaluations: true}, true},
		{ActionExportData, Grant{CanExportReports: true}, true},
		{ActionExportData, Grant{CanViewReports: true}, false},
		{ActionInviteCollaborator, Grant{CanInviteOthers: true}, true},
		{ActionRemoveCollaborator, Grant{CanRemoveCollaborators: true}, true},
		{ActionChangeRole, Grant{CanChangeCollaboratorRoles: true}, true},
		{ActionChangeRole, Grant{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, New(RoleEvaluator, tt.grant).CanPerformAction(tt.action))
		})
	}
}

func TestEvaluationGating(t *testing.T) {
	grants := []Grant{
		{CanEvaluateAllSections: true},
		{EvaluableSectionIDs: []string{"s1", "s2"}},
		{CanEvaluateAllSections: true, EvaluableSectionIDs: []string{"s1"}, CanOverrideEvaluations: true, CanLockEvaluations: true},
	}
	for _, g := range grants {
		e := New(RoleEvaluator, g)
		for _, section := range []string{"s1", "s2", "s3", ""} {
			assert.False(t, e.CanEvaluateSection(section))
		}
		assert.False(t, e.CanEvaluateAllSections())
		assert.False(t, e.CanOverrideEvaluations())
		assert.False(t, e.CanLockEvaluations())
	}
}

func TestCanEvaluateSection(t *testing.T) {
	specific := New(RoleEvaluator, Grant{CanEvaluate: true, EvaluableSectionIDs: []string{"s1"}})
	assert.True(t, specific.CanEvaluateSection("s1"))
	assert.False(t, specific.CanEvaluateSection("s2"))
	assert.False(t, specific.CanEvaluateSection(""))

	all := New(RoleEvaluator, Grant{CanEvaluate: true, CanEvaluateAllSections: true, EvaluableSectionIDs: []string{"s1"}})
	assert.True(t, all.CanEvaluateSection("s1"))
	assert.True(t, all.CanEvaluateSection("s9"), "all-sections takes priority over the explicit list")
}

func TestEngineCopiesGrant(t *testing.T) {
	g := Grant{CanEvaluate: true, EvaluableSectionIDs: []string{"s1"}}
	e := New(RoleEvaluator, g)
	g.EvaluableSectionIDs[0] = "s2"

	assert.True(t, e.CanEvaluateSection("s1"))
	assert.False(t, e.CanEvaluateSection("s2"))

	out := e.Grant()
	out.EvaluableSectionIDs[0] = "s3"
	assert.True(t, e.CanEvaluateSection("s1"))
}

func TestIsOwner(t *testing.T) {
	assert.True(t, New(RoleOwner, Grant{}).IsOwner())
	assert.False(t, New(RoleLeadEvaluator, DefaultGrant(RoleOwner)).IsOwner())
}

func TestAggregates(t *testing.T) {
	none := New(RoleCandidate, Grant{})
	assert.False(t, none.HasAnyEvaluationPermission())
	assert.False(t, none.HasAnyCollaborationPermission())
	assert.False(t, none.HasAnyReportingPermission())
	assert.False(t, none.HasAdministrativePermissions())

	assert.True(t, New(RoleObserver, Grant{CanViewOtherEvaluations: true}).HasAnyEvaluationPermission())
	assert.False(t, New(RoleObserver, Grant{CanOverrideEvaluations: true}).HasAnyEvaluationPermission())
	assert.True(t, New(RoleObserver, Grant{CanPinComments: true}).HasAnyCollaborationPermission())
	assert.True(t, New(RoleObserver, Grant{CanShareReports: true}).HasAnyReportingPermission())
	assert.True(t, New(RoleObserver, Grant{CanChangeDueDate: true}).HasAdministrativePermissions())
}

func TestDefaultGrants(t *testing.T) {
	owner := New(RoleOwner, DefaultGrant(RoleOwner))
	for _, cat := range owner.Summarize() {
		for _, item := range cat.Items {
			assert.True(t, item.Granted, "owner should hold %s", item.Name)
		}
	}

	evaluator := New(RoleEvaluator, DefaultGrant(RoleEvaluator))
	assert.True(t, evaluator.CanEvaluateSection("anything"))
	assert.False(t, evaluator.CanInviteOthers())

	observer := New(RoleObserver, DefaultGrant(RoleObserver))
	assert.False(t, observer.CanEvaluate())
	assert.True(t, observer.CanComment())

	assert.Equal(t, Grant{}, DefaultGrant(Role("janitor")))
	assert.False(t, Role("janitor").Valid())
	assert.True(t, RoleLeadEvaluator.Valid())
}

func TestSummarizeLayout(t *testing.T) {
	e := New(RoleEvaluator, Grant{CanEvaluateAllSections: true, CanComment: true})
	summary := e.Summarize()

	require.Len(t, summary, 4)
	assert.Equal(t, CategoryCore, summary[0].Name)
	assert.Equal(t, CategoryEvaluationManagement, summary[1].Name)
	assert.Equal(t, CategoryCollaborationManagement, summary[2].Name)
	assert.Equal(t, CategoryAdministrative, summary[3].Name)

	seen := map[string]bool{}
	total := 0
	for _, cat := range summary {
		for _, item := range cat.Items {
			assert.False(t, seen[item.Name], "duplicate item %s", item.Name)
			seen[item.Name] = true
			assert.NotEmpty(t, item.Description)
			total++
		}
	}
	assert.Equal(t, 29, total)

	assert.Equal(t, "can_evaluate_all_sections", summary[1].Items[0].Name)
	assert.False(t, summary[1].Items[0].Granted, "gated by can_evaluate")
	assert.Equal(t, "can_comment", summary[0].Items[4].Name)
	assert.True(t, summary[0].Items[4].Granted)

	assert.Equal(t, summary, e.Summarize())
}

func TestSummaryCoversEveryGrantFlag(t *testing.T) {
	raw, err := json.Marshal(Grant{})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	names := map[string]bool{}
	for _, cat := range New(RoleOwner, Grant{}).Summarize() {
		for _, item := range cat.Items {
			names[item.Name] = true
		}
	}
	for field := range fields {
		if field == "evaluable_section_ids" {
			continue
		}
		assert.True(t, names[field], "summary is missing %s", field)
	}
}
