package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/edupanel/identity-api/internal/models"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
	"github.com/edupanel/identity-api/pkg/export"
)

type userViewLister interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.UserProfileView, error)
}

// ExportResult bundles rendered export bytes with response metadata.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportService renders the user roster as downloadable documents.
type ExportService struct {
	users  userViewLister
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	logger *zap.Logger
}

// NewExportService constructs an ExportService instance.
func NewExportService(users userViewLister, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		users:  users,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		logger: logger,
	}
}

// ExportUsers renders the roster in the requested format (csv or pdf).
func (s *ExportService) ExportUsers(ctx context.Context, format string, filter models.UserFilter) (*ExportResult, error) {
	views, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	table := buildUserTable(views)

	switch strings.ToLower(format) {
	case "csv", "":
		data, err := s.csv.Render(table)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportResult{FileName: "users.csv", ContentType: "text/csv", Data: data}, nil
	case "pdf":
		data, err := s.pdf.Render(table, "User Roster")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportResult{FileName: "users.pdf", ContentType: "application/pdf", Data: data}, nil
	}

	return nil, appErrors.Validation(map[string]string{"format": "Unsupported export format. Use csv or pdf."})
}

func buildUserTable(views []models.UserProfileView) export.Table {
	table := export.Table{
		Columns: []string{"ID", "Username", "Email", "Role", "Approved", "Phone", "Details"},
	}
	for _, view := range views {
		phone := ""
		if view.PhoneNumber != nil {
			phone = *view.PhoneNumber
		}
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("%d", view.ID),
			view.Username,
			view.Email,
			string(view.Role),
			fmt.Sprintf("%t", view.IsApproved),
			phone,
			roleDetails(view.RoleData),
		})
	}
	return table
}

func roleDetails(data models.RoleData) string {
	switch d := data.(type) {
	case models.StudentRoleData:
		return "enrolled " + d.EnrollmentDate.Format("2006-01-02")
	case models.TeacherRoleData:
		return "enrolled " + d.EnrollmentDate.Format("2006-01-02")
	case models.ParentRoleData:
		names := make([]string, 0, len(d.Students))
		for _, st := range d.Students {
			names = append(names, st.Username)
		}
		if len(names) == 0 {
			return d.Relationship
		}
		return d.Relationship + " of " + strings.Join(names, ", ")
	}
	return ""
}
