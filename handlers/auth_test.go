package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandmate/bandmate/backend/auth-service/internal/config"
	"github.com/bandmate/bandmate/backend/auth-service/internal/models"
	"github.com/bandmate/bandmate/backend/auth-service/internal/password"
	"github.com/bandmate/bandmate/backend/auth-service/internal/sessions"
	"github.com/bandmate/bandmate/backend/auth-service/internal/tokens"
	"github.com/bandmate/bandmate/backend/auth-service/internal/users"
)

// fake sessions repo
type fakeSessionsRepo struct {
	mu    sync.Mutex
	store map[string]*sessions.Session
}

func newFakeSessionsRepo() *fakeSessionsRepo {
	return &fakeSessionsRepo{store: map[string]*sessions.Session{}}
}

func (f *fakeSessionsRepo) Save(ctx context.Context, s *sessions.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[s.RefreshToken]; ok {
		return sessions.ErrDuplicateToken
	}
	f.store[s.RefreshToken] = s
	return nil
}

func (f *fakeSessionsRepo) IsValid(ctx context.Context, refresh string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.store[refresh]
	return ok, nil
}

func (f *fakeSessionsRepo) Delete(ctx context.Context, refresh string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.store[refresh]
	delete(f.store, refresh)
	return ok, nil
}

func (f *fakeSessionsRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for tok, s := range f.store {
		if s.UserID == userID {
			delete(f.store, tok)
		}
	}
	return nil
}

func (f *fakeSessionsRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeSessionsRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.store)
}

// fake user repo
type fakeUserRepo struct {
	mu   sync.Mutex
	byID map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo { return &fakeUserRepo{byID: map[string]*models.User{}} }

func (f *fakeUserRepo) Create(ctx context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.byID {
		if e.Email == u.Email {
			return users.ErrEmailTaken
		}
	}
	cp := *u
	f.byID[u.ID] = &cp
	return nil
}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeUserRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byID[id]
	delete(f.byID, id)
	return ok, nil
}

func (f *fakeUserRepo) List(ctx context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.byID {
		out = append(out, *u)
	}
	return out, nil
}

type testEnv struct {
	router   *gin.Engine
	sessions *fakeSessionsRepo
	users    *fakeUserRepo
	userSvc  *users.Service
	sessSvc  *sessions.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{}
	cfg.JWT = config.JWTConfig{
		AccessSecret:    "handler-access-secret-32-bytes-xx",
		RefreshSecret:   "handler-refresh-secret-32-bytes-x",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}

	srepo := newFakeSessionsRepo()
	urepo := newFakeUserRepo()
	codec := tokens.NewCodec(cfg.JWT)
	uSvc := users.NewService(urepo, srepo)
	sSvc := sessions.NewService(srepo, codec, uSvc, password.Verify)

	hash, err := password.Hash("secret123")
	require.NoError(t, err)
	require.NoError(t, urepo.Create(context.Background(), &models.User{
		ID: "user-1", Email: "a@x.com", Name: "Alice", PasswordHash: hash, Role: models.RoleMember,
	}))

	r := gin.New()
	h := NewAuthHandler(cfg, uSvc, sSvc)
	h.Register(r.Group("/"))
	uh := NewUsersHandler(uSvc, sSvc)
	uh.Register(r.Group("/api/v1"))

	return &testEnv{router: r, sessions: srepo, users: urepo, userSvc: uSvc, sessSvc: sSvc}
}

func (e *testEnv) do(method, path, body string, mod func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) (access, refresh string) {
	t.Helper()
	w := e.do("POST", "/auth/login", `{"email":"a@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	for _, ck := range w.Result().Cookies() {
		if ck.Name == refreshCookie {
			refresh = ck.Value
		}
	}
	require.NotEmpty(t, got.AccessToken)
	require.NotEmpty(t, refresh)
	return got.AccessToken, refresh
}

func TestLogin_Success(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("POST", "/auth/login", `{"email":"a@x.com","password":"secret123"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotEmpty(t, got["accessToken"])
	user := got["user"].(map[string]interface{})
	assert.Equal(t, "a@x.com", user["email"])
	// password material never leaves the service
	assert.NotContains(t, w.Body.String(), "passwordHash")

	var names []string
	for _, ck := range w.Result().Cookies() {
		names = append(names, ck.Name)
		assert.True(t, ck.HttpOnly, "cookie %s must be httpOnly", ck.Name)
		assert.Equal(t, cookiePath, ck.Path)
	}
	assert.Contains(t, names, accessCookie)
	assert.Contains(t, names, refreshCookie)

	// one persisted refresh credential
	assert.Equal(t, 1, e.sessions.count())
}

func TestLogin_UniformErrorForUnknownAndWrongPassword(t *testing.T) {
	e := newTestEnv(t)

	w1 := e.do("POST", "/auth/login", `{"email":"a@x.com","password":"wrong"}`, nil)
	w2 := e.do("POST", "/auth/login", `{"email":"nobody@x.com","password":"secret123"}`, nil)

	require.Equal(t, http.StatusUnauthorized, w1.Code)
	require.Equal(t, http.StatusUnauthorized, w2.Code)
	assert.JSONEq(t, w1.Body.String(), w2.Body.String(), "unknown email and wrong password must be indistinguishable")
}

func TestLogin_MissingFields(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("POST", "/auth/login", `{"email":"a@x.com"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_ThenLogin(t *testing.T) {
	e := newTestEnv(t)

	w := e.do("POST", "/auth/register", `{"email":"new@x.com","password":"longenough1","name":"New"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "passwordHash")

	// duplicate email rejected
	w = e.do("POST", "/auth/register", `{"email":"new@x.com","password":"longenough1","name":"Dup"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do("POST", "/auth/login", `{"email":"new@x.com","password":"longenough1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_RotatesCookie(t *testing.T) {
	e := newTestEnv(t)
	_, refresh := e.login(t)

	w := e.do("POST", "/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rotated string
	for _, ck := range w.Result().Cookies() {
		if ck.Name == refreshCookie {
			rotated = ck.Value
		}
	}
	require.NotEmpty(t, rotated)
	assert.NotEqual(t, refresh, rotated)

	// the consumed token is gone; presenting it again fails
	w = e.do("POST", "/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_FromBody(t *testing.T) {
	e := newTestEnv(t)
	_, refresh := e.login(t)

	body := fmt.Sprintf(`{"refreshToken":%q}`, refresh)
	w := e.do("POST", "/auth/refresh", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRefresh_MissingToken(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("POST", "/auth/refresh", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesAndClearsCookies(t *testing.T) {
	e := newTestEnv(t)
	access, refresh := e.login(t)

	w := e.do("POST", "/auth/logout", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, ck := range w.Result().Cookies() {
		assert.LessOrEqual(t, ck.MaxAge, 0, "cookie %s must be cleared", ck.Name)
	}

	// refresh with the revoked token fails
	w = e.do("POST", "/auth/refresh", "", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RequiresAuthentication(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("POST", "/auth/logout", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutAll_RevokesEveryDevice(t *testing.T) {
	e := newTestEnv(t)

	// three devices
	access, _ := e.login(t)
	e.login(t)
	e.login(t)
	require.Equal(t, 3, e.sessions.count())

	w := e.do("POST", "/auth/logout-all", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, e.sessions.count())
}

func TestMe(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t)

	w := e.do("GET", "/auth/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "a@x.com")

	w = e.do("GET", "/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func adminAccess(t *testing.T, e *testEnv) string {
	t.Helper()
	hash, err := password.Hash("admin-pass")
	require.NoError(t, err)
	require.NoError(t, e.users.Create(context.Background(), &models.User{
		ID: "admin-1", Email: "admin@x.com", Name: "Admin", PasswordHash: hash, Role: models.RoleAdmin,
	}))
	w := e.do("POST", "/auth/login", `{"email":"admin@x.com","password":"admin-pass"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got.AccessToken
}

func TestAdminDeleteUser_CascadesSessions(t *testing.T) {
	e := newTestEnv(t)
	_, _ = e.login(t) // a member session to cascade away
	admin := adminAccess(t, e)

	w := e.do("DELETE", "/api/v1/users/user-1", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+admin)
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	u, _ := e.users.FindByID(context.Background(), "user-1")
	assert.Nil(t, u)
	// only the admin's own session remains
	assert.Equal(t, 1, e.sessions.count())
}

// repo simulating a store outage: every operation reports unavailability
type unavailableSessionsRepo struct{}

func (unavailableSessionsRepo) Save(ctx context.Context, s *sessions.Session) error {
	return sessions.ErrUnavailable
}

func (unavailableSessionsRepo) IsValid(ctx context.Context, refresh string) (bool, error) {
	return false, sessions.ErrUnavailable
}

func (unavailableSessionsRepo) Delete(ctx context.Context, refresh string) (bool, error) {
	return false, sessions.ErrUnavailable
}

func (unavailableSessionsRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	return sessions.ErrUnavailable
}

func (unavailableSessionsRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, sessions.ErrUnavailable
}

// A store outage must surface as 503, not as an auth failure.
func TestAuth_StoreOutageYields503(t *testing.T) {
	cfg := &config.Config{}
	cfg.JWT = config.JWTConfig{
		AccessSecret:    "outage-access-secret-32-bytes-xxx",
		RefreshSecret:   "outage-refresh-secret-32-bytes-xx",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	urepo := newFakeUserRepo()
	hash, err := password.Hash("secret123")
	require.NoError(t, err)
	require.NoError(t, urepo.Create(context.Background(), &models.User{
		ID: "user-1", Email: "a@x.com", Name: "Alice", PasswordHash: hash, Role: models.RoleMember,
	}))

	codec := tokens.NewCodec(cfg.JWT)
	uSvc := users.NewService(urepo, nil)
	sSvc := sessions.NewService(unavailableSessionsRepo{}, codec, uSvc, password.Verify)

	r := gin.New()
	NewAuthHandler(cfg, uSvc, sSvc).Register(r.Group("/"))

	// login fails when the credential cannot be persisted
	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"email":"a@x.com","password":"secret123"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	// refresh fails before any token inspection
	req = httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: "any-token"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
}

// member tokens get 403 on admin routes, anonymous callers get 401
func TestAdminRoutes_FailClosed(t *testing.T) {
	e := newTestEnv(t)
	access, _ := e.login(t)

	w := e.do("GET", "/api/v1/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.do("GET", "/api/v1/users", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+access)
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	admin := adminAccess(t, e)
	w = e.do("GET", "/api/v1/users", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+admin)
	})
	require.Equal(t, http.StatusOK, w.Code)
}
