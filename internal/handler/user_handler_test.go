package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupanel/identity-api/internal/middleware"
	"github.com/edupanel/identity-api/internal/models"
	"github.com/edupanel/identity-api/internal/service"
	appErrors "github.com/edupanel/identity-api/pkg/errors"
)

type userManagerMock struct {
	createResp *models.UserProfileView
	createErr  error
	editResp   *models.UserProfileView
	editErr    error
	getResp    *models.UserProfileView
	getErr     error
	listResp   []models.UserProfileView
	listErr    error
	lastFilter models.UserFilter
	lastGetID  int64
	lastActor  *models.JWTClaims
}

func (m *userManagerMock) Create(ctx context.Context, actor *models.JWTClaims, req service.AdminCreateUserRequest) (*models.UserProfileView, error) {
	m.lastActor = actor
	return m.createResp, m.createErr
}

func (m *userManagerMock) Edit(ctx context.Context, actor *models.JWTClaims, req service.AdminEditUserRequest) (*models.UserProfileView, error) {
	m.lastActor = actor
	return m.editResp, m.editErr
}

func (m *userManagerMock) Get(ctx context.Context, id int64) (*models.UserProfileView, error) {
	m.lastGetID = id
	return m.getResp, m.getErr
}

func (m *userManagerMock) List(ctx context.Context, filter models.UserFilter) ([]models.UserProfileView, error) {
	m.lastFilter = filter
	return m.listResp, m.listErr
}

type exporterMock struct {
	result     *service.ExportResult
	err        error
	lastFormat string
}

func (m *exporterMock) ExportUsers(ctx context.Context, format string, filter models.UserFilter) (*service.ExportResult, error) {
	m.lastFormat = format
	return m.result, m.err
}

func adminContext(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	var err error
	if body != "" {
		req, err = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = http.NewRequest(method, path, nil)
	}
	require.NoError(t, err)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: 1, Username: "admin", Role: models.RoleAdmin})
	return w, c
}

func TestUserHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{createResp: &models.UserProfileView{ID: 2, Username: "t", Role: models.RoleTeacher}}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodPost, "/admin/user/create",
		`{"username":"t","email":"t@example.com","password":"x","password2":"x","role":"teacher","is_approved":true}`)
	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "teacher created successfully!")
	require.NotNil(t, mockSvc.lastActor)
	assert.Equal(t, int64(1), mockSvc.lastActor.UserID)
}

func TestUserHandlerCreateValidationError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{createErr: appErrors.Validation(map[string]string{"student_ids": "Invalid student ID: 9"})}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodPost, "/admin/user/create",
		`{"username":"p","email":"p@example.com","password":"x","password2":"x","role":"parent","relationship":"Mother","student_ids":[9]}`)
	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid student ID: 9")
}

func TestUserHandlerGetByID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{getResp: &models.UserProfileView{ID: 5, Username: "kid"}}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodGet, "/admin/user", `{"id":5}`)
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(5), mockSvc.lastGetID)
	assert.Contains(t, w.Body.String(), "kid")
}

func TestUserHandlerGetListsWithoutID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{listResp: []models.UserProfileView{{ID: 1}, {ID: 2}}}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodGet, "/admin/user?is_approved=false", "")
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mockSvc.lastFilter.IsApproved)
	assert.False(t, *mockSvc.lastFilter.IsApproved)
}

func TestUserHandlerGetUnknownUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "user not found")}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodGet, "/admin/user", `{"id":404}`)
	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestUserHandlerEditRequiresID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewUserHandler(&userManagerMock{}, &exporterMock{})

	w, c := adminContext(t, http.MethodPut, "/admin/user", `{"username":"x"}`)
	h.Edit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserHandlerEdit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &userManagerMock{editResp: &models.UserProfileView{ID: 7, Username: "renamed"}}
	h := NewUserHandler(mockSvc, &exporterMock{})

	w, c := adminContext(t, http.MethodPut, "/admin/user", `{"id":7,"username":"renamed"}`)
	h.Edit(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "User updated successfully!")
}

func TestUserHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	exporter := &exporterMock{result: &service.ExportResult{FileName: "users.csv", ContentType: "text/csv", Data: []byte("ID,Username\n")}}
	h := NewUserHandler(&userManagerMock{}, exporter)

	w, c := adminContext(t, http.MethodGet, "/admin/user/export?format=csv", "")
	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.lastFormat)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "users.csv")
}
