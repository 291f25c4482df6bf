package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetdesk/backend/internal/browser"
	"assetdesk/backend/internal/tour"
	"assetdesk/backend/pkg/models"
)

func TestSelectRoles(t *testing.T) {
	all := []models.Role{models.RoleAdmin, models.RoleUser}

	roles, err := selectRoles(all, nil)
	require.NoError(t, err)
	assert.Equal(t, all, roles)

	roles, err = selectRoles(all, []string{"support"})
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleSupport}, roles)

	_, err = selectRoles(all, []string{"guest"})
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	out := render([]browser.Report{
		{
			Role: models.RoleUser,
			Steps: []browser.StepResult{
				{Index: 0, StepID: "user-my-assets", Route: "/my-assets", TargetFound: true},
				{Index: 1, StepID: "user-new-ticket", Route: "/tickets"},
			},
			Outcome: tour.OutcomeCompleted,
		},
		{Role: models.RolePM},
	}, []error{nil, errors.New("chrome went away")})

	assert.Contains(t, out, "user tour")
	assert.Contains(t, out, "2 steps, 1 fallback")
	assert.Contains(t, out, "user-new-ticket")
	assert.Contains(t, out, "outcome: completed")
	assert.Contains(t, out, "chrome went away")
}
