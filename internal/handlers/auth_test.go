package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agrinova/apiserver/internal/services"
	"github.com/agrinova/apiserver/internal/store"
	"github.com/agrinova/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

type memoryUserRepo struct {
	users  []types.User
	nextID int
}

func (r *memoryUserRepo) Create(_ context.Context, user types.User) (types.User, error) {
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.users = append(r.users, user)
	return user, nil
}

func (r *memoryUserRepo) GetByIdentifier(_ context.Context, identifier string) (types.User, error) {
	for _, user := range r.users {
		if user.Username == identifier || user.Email == identifier {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *memoryUserRepo) GetByID(_ context.Context, id int) (types.User, error) {
	for _, user := range r.users {
		if user.ID == id {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func newAuthRouter(repo *memoryUserRepo) *chi.Mux {
	router := chi.NewRouter()
	router.Use(WithSession(testSecret))
	AuthRouter(router, services.NewUserService(repo), testSecret)
	return router
}

func postJSON(t *testing.T, router http.Handler, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSignup(t *testing.T) {
	repo := &memoryUserRepo{}
	router := newAuthRouter(repo)

	rec := postJSON(t, router, "/signup", SignupRequest{Username: "kisan", Email: "kisan@example.com", Password: "harvest123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "User registered successfully", resp.Message)

	require.Len(t, repo.users, 1)
	require.NotEqual(t, "harvest123", repo.users[0].PasswordHash)
}

func TestSignupMissingFields(t *testing.T) {
	router := newAuthRouter(&memoryUserRepo{})

	rec := postJSON(t, router, "/signup", SignupRequest{Username: "kisan"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignupDuplicate(t *testing.T) {
	repo := &memoryUserRepo{}
	router := newAuthRouter(repo)

	rec := postJSON(t, router, "/signup", SignupRequest{Username: "kisan", Email: "kisan@example.com", Password: "pw"})
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, req := range []SignupRequest{
		{Username: "kisan", Email: "new@example.com", Password: "pw"},
		{Username: "newuser", Email: "kisan@example.com", Password: "pw"},
	} {
		rec := postJSON(t, router, "/signup", req)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "Username or Email already exists", resp.Error)
	}
	require.Len(t, repo.users, 1)
}

func TestLoginSetsSessionAndProfileReadsIt(t *testing.T) {
	repo := &memoryUserRepo{}
	router := newAuthRouter(repo)

	rec := postJSON(t, router, "/signup", SignupRequest{Username: "kisan", Email: "kisan@example.com", Password: "harvest123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, router, "/login", LoginRequest{Identifier: "kisan@example.com", Password: "harvest123"})
	require.Equal(t, http.StatusOK, rec.Code)

	var login UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.Equal(t, 1, login.User.ID)
	require.Equal(t, "kisan", login.User.Username)
	require.NotContains(t, rec.Body.String(), "password")

	var session *http.Cookie
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			session = cookie
		}
	}
	require.NotNil(t, session)
	require.True(t, session.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.AddCookie(session)
	profileRec := httptest.NewRecorder()
	router.ServeHTTP(profileRec, req)
	require.Equal(t, http.StatusOK, profileRec.Code)

	var profile UserResponse
	require.NoError(t, json.Unmarshal(profileRec.Body.Bytes(), &profile))
	require.Equal(t, 1, profile.User.ID)
	require.Equal(t, "kisan", profile.User.Username)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	router := newAuthRouter(&memoryUserRepo{})

	rec := postJSON(t, router, "/signup", SignupRequest{Username: "kisan", Email: "kisan@example.com", Password: "harvest123"})
	require.Equal(t, http.StatusCreated, rec.Code)

	wrongPassword := postJSON(t, router, "/login", LoginRequest{Identifier: "kisan", Password: "wrong"})
	unknownUser := postJSON(t, router, "/login", LoginRequest{Identifier: "ghost", Password: "harvest123"})

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	require.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestProfileUnauthenticated(t *testing.T) {
	router := newAuthRouter(&memoryUserRepo{})

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutIsIdempotent(t *testing.T) {
	router := newAuthRouter(&memoryUserRepo{})

	for i := 0; i < 2; i++ {
		rec := postJSON(t, router, "/logout", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var cleared *http.Cookie
		for _, cookie := range rec.Result().Cookies() {
			if cookie.Name == sessionCookieName {
				cleared = cookie
			}
		}
		require.NotNil(t, cleared)
		require.Negative(t, cleared.MaxAge)
	}
}

func TestSessionRoundtrip(t *testing.T) {
	token, err := issueSession(42, "kisan", []byte(testSecret), defaultSessionTTL)
	require.NoError(t, err)

	identity, err := parseSession(token, []byte(testSecret))
	require.NoError(t, err)
	require.Equal(t, Identity{UserID: 42, Username: "kisan"}, identity)

	_, err = parseSession(token, []byte("other-secret"))
	require.Error(t, err)
}

func TestPasswordHashNeverVerifiesAsPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("harvest123"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.Error(t, bcrypt.CompareHashAndPassword(hash, hash))
}
