package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edupanel/identity-api/internal/models"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
)

type mockViewLister struct {
	views []models.UserProfileView
}

func (m *mockViewLister) List(ctx context.Context, filter models.UserFilter) ([]models.UserProfileView, error) {
	return m.views, nil
}

func exportFixture() *mockViewLister {
	enrolled := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	return &mockViewLister{views: []models.UserProfileView{
		{ID: 1, Username: "kid", Email: "kid@example.com", Role: models.RoleStudent, IsApproved: true,
			RoleData: models.StudentRoleData{EnrollmentDate: enrolled}},
		{ID: 2, Username: "mom", Email: "mom@example.com", Role: models.RoleParent, IsApproved: true,
			RoleData: models.ParentRoleData{Relationship: "Mother", Students: []models.StudentSummary{{ID: 1, Username: "kid"}}}},
	}}
}

func TestExportServiceCSV(t *testing.T) {
	svc := NewExportService(exportFixture(), zap.NewNop())

	result, err := svc.ExportUsers(context.Background(), "csv", models.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "users.csv", result.FileName)

	body := string(result.Data)
	lines := strings.Split(strings.TrimSpace(body), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Username")
	assert.Contains(t, body, "enrolled 2024-09-01")
	assert.Contains(t, body, "Mother of kid")
}

func TestExportServicePDF(t *testing.T) {
	svc := NewExportService(exportFixture(), zap.NewNop())

	result, err := svc.ExportUsers(context.Background(), "pdf", models.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
}

func TestExportServiceUnsupportedFormat(t *testing.T) {
	svc := NewExportService(exportFixture(), zap.NewNop())

	_, err := svc.ExportUsers(context.Background(), "xlsx", models.UserFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
