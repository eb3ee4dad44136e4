package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupanel/identity-api/internal/models"
	"github.com/edupanel/identity-api/internal/service"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
	"github.com/edupanel/identity-api/pkg/response"
)

type userManager interface {
	Create(ctx context.Context, actor *models.JWTClaims, req service.AdminCreateUserRequest) (*models.UserProfileView, error)
	Edit(ctx context.Context, actor *models.JWTClaims, req service.AdminEditUserRequest) (*models.UserProfileView, error)
	Get(ctx context.Context, id int64) (*models.UserProfileView, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.UserProfileView, error)
}

type rosterExporter interface {
	ExportUsers(ctx context.Context, format string, filter models.UserFilter) (*service.ExportResult, error)
}

// UserHandler wires the admin user management endpoints.
type UserHandler struct {
	users  userManager
	export rosterExporter
}

// NewUserHandler creates a new handler.
func NewUserHandler(users userManager, export rosterExporter) *UserHandler {
	return &UserHandler{users: users, export: export}
}

// userQuery is the optional body accepted by Get. An absent body or absent id
// means "list"; is_approved narrows the listing.
type userQuery struct {
	ID         *int64 `json:"id"`
	IsApproved *bool  `json:"is_approved"`
}

// Create provisions a user with any role.
func (h *UserHandler) Create(c *gin.Context) {
	var req service.AdminCreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}

	view, err := h.users.Create(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, gin.H{
		"message": fmt.Sprintf("%s created successfully!", view.Role),
		"user":    view,
	})
}

// Get returns a single user view when an id is supplied, otherwise the full
// listing, optionally filtered by approval state.
func (h *UserHandler) Get(c *gin.Context) {
	query, err := h.bindQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	if query.ID != nil {
		view, err := h.users.Get(c.Request.Context(), *query.ID)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, view, nil)
		return
	}

	views, listErr := h.users.List(c.Request.Context(), models.UserFilter{IsApproved: query.IsApproved})
	if listErr != nil {
		response.Error(c, listErr)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Edit applies a partial update to the user named by the body id.
func (h *UserHandler) Edit(c *gin.Context) {
	var req service.AdminEditUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid user payload"))
		return
	}

	view, err := h.users.Edit(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{
		"message": "User updated successfully!",
		"user":    view,
	}, nil)
}

// Export streams the roster as CSV or PDF.
func (h *UserHandler) Export(c *gin.Context) {
	var filter models.UserFilter
	if raw := c.Query("is_approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Validation(map[string]string{"is_approved": "Must be true or false."}))
			return
		}
		filter.IsApproved = &approved
	}

	result, err := h.export.ExportUsers(c.Request.Context(), c.DefaultQuery("format", "csv"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.FileName))
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

// bindQuery reads the optional JSON body; an empty body is a valid "list all"
// request. Query parameters work as a fallback for clients that cannot send a
// GET body.
func (h *UserHandler) bindQuery(c *gin.Context) (*userQuery, *appErrors.Error) {
	var query userQuery
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&query); err != nil && !errors.Is(err, io.EOF) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query payload")
		}
	}

	if query.ID == nil {
		if raw := c.Query("id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, appErrors.Validation(map[string]string{"id": "Must be an integer."})
			}
			query.ID = &id
		}
	}
	if query.IsApproved == nil {
		if raw := c.Query("is_approved"); raw != "" {
			approved, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, appErrors.Validation(map[string]string{"is_approved": "Must be true or false."})
			}
			query.IsApproved = &approved
		}
	}

	return &query, nil
}
