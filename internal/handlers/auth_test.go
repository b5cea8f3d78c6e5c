package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/hubflo/hubflo/internal/constants"
	"github.com/hubflo/hubflo/internal/middleware"
	"github.com/hubflo/hubflo/internal/services"
	"github.com/stretchr/testify/require"
)

func setupAuthRouter(t *testing.T, token string) *gin.Engine {
	t.Helper()

	authService, err := services.NewAuthService(token)
	require.NoError(t, err)
	handler := NewAuthHandler(authService)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := cookie.NewStore([]byte("secret"))
	r.Use(sessions.Sessions(constants.SessionCookieName, store))
	r.POST("/api/admin/login", handler.Login)
	r.POST("/api/admin/logout", handler.Logout)
	r.GET("/api/admin/me", middleware.RequireAdmin(authService), handler.Me)
	return r
}

func postLogin(t *testing.T, r *gin.Engine, token string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(map[string]string{"token": token})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthHandler_LoginSetsSession(t *testing.T) {
	r := setupAuthRouter(t, adminToken)

	w := postLogin(t, r, adminToken)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
}

func TestAuthHandler_LoginWrongToken(t *testing.T) {
	r := setupAuthRouter(t, adminToken)

	w := postLogin(t, r, "guess")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postLogin(t, r, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandler_AdminDisabled(t *testing.T) {
	r := setupAuthRouter(t, "")

	w := postLogin(t, r, "anything")
	require.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/me?token=anything", nil)
	me := httptest.NewRecorder()
	r.ServeHTTP(me, req)
	require.Equal(t, http.StatusForbidden, me.Code)
}

func TestAuthHandler_Logout(t *testing.T) {
	r := setupAuthRouter(t, adminToken)

	login := postLogin(t, r, adminToken)
	require.Equal(t, http.StatusOK, login.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/logout", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	me := httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	for _, c := range w.Result().Cookies() {
		me.AddCookie(c)
	}
	res := httptest.NewRecorder()
	r.ServeHTTP(res, me)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}
