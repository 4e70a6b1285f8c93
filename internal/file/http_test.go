package file_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"file-service/internal/auth"
	"file-service/internal/file"
	"file-service/internal/metrics"
	"file-service/internal/policy"
	"file-service/internal/storage"
	"file-service/internal/user"
	"file-service/testing/testdb"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t      *testing.T
	router http.Handler
	tokens *auth.TokenIssuer
}

func (c *apiClient) do(p *policy.Principal, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if p != nil {
		token, err := c.tokens.GenerateAccessToken(p)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func (c *apiClient) upload(p *policy.Principal, title, filename, content string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(c.t, mw.WriteField("title", title))
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(c.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	return c.do(p, http.MethodPost, "/api/files", &buf, mw.FormDataContentType())
}

type listResponse struct {
	Message string      `json:"message"`
	Data    []file.View `json:"data"`
}

type createResponse struct {
	Message string    `json:"message"`
	Data    file.View `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(dst))
}

func newAPI(t *testing.T, pg *testdb.PostgresContainer, store storage.BlobStore, scope policy.Scope, mode string) *apiClient {
	mockMetrics := metrics.NewMock()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	tokens := auth.NewTokenIssuer("test-secret-key-for-testing", 15*time.Minute)

	svc := file.NewService(file.NewRepository(pg.DB, mockMetrics), store, nil, file.Options{
		Scope:          scope,
		MaxUploadBytes: 1 << 20,
		PresignTTL:     time.Minute,
	}, mockMetrics, logger)
	handler := file.NewHandler(svc, mode, 1<<20, logger)

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(tokens, logger))
		handler.RegisterRoutes(r)
	})
	return &apiClient{t: t, router: router, tokens: tokens}
}

func TestFileAPI_Shared(t *testing.T) {
	pgContainer := testdb.SetupSharedPostgres(t)
	defer pgContainer.Cleanup(t)

	pgContainer.RunMigrations(t, (*user.User)(nil), (*file.File)(nil))

	users := user.NewRepository(pgContainer.DB, metrics.NewMock())
	seed := func(t *testing.T, email string, role policy.Role) *policy.Principal {
		t.Helper()
		u, err := users.Create(context.Background(), &user.User{
			Email:        email,
			Username:     email,
			FirstName:    "Test",
			LastName:     "User",
			PasswordHash: "x",
			Role:         role,
		})
		require.NoError(t, err)
		return u.Principal()
	}

	t.Run("Syllabus_Scenario", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		profA := seed(t, "prof.a@uni.test", policy.RoleProfessor)
		studentB := seed(t, "student.b@uni.test", policy.RoleStudent)
		store := storage.NewMemoryStore()
		api := newAPI(t, pgContainer, store, policy.ScopeAll, file.DownloadRedirect)

		w := api.upload(profA, "Syllabus", "Syllabus.pdf", "%PDF-1.7 syllabus")
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var created createResponse
		decode(t, w, &created)
		id := created.Data.ID
		assert.Equal(t, "Syllabus.pdf", created.Data.OriginalName)

		for _, p := range []*policy.Principal{profA, studentB} {
			w = api.do(p, http.MethodGet, "/api/files", nil, "")
			require.Equal(t, http.StatusOK, w.Code)
			var list listResponse
			decode(t, w, &list)
			require.Len(t, list.Data, 1)
			assert.Equal(t, id, list.Data[0].ID)
			assert.Equal(t, "prof.a@uni.test", list.Data[0].UploadedByEmail)
		}

		w = api.do(studentB, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = api.do(profA, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, store.Keys(), "blob must be released")

		w = api.do(studentB, http.MethodGet, fmt.Sprintf("/api/files/%d/download", id), nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = api.do(profA, http.MethodDelete, fmt.Sprintf("/api/files/%d", id), nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Student_Cannot_Upload", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		student := seed(t, "student@uni.test", policy.RoleStudent)
		store := storage.NewMemoryStore()
		api := newAPI(t, pgContainer, store, policy.ScopeOwn, file.DownloadRedirect)

		w := api.upload(student, "Homework", "hw.pdf", "data")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Empty(t, store.Keys())
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		api := newAPI(t, pgContainer, storage.NewMemoryStore(), policy.ScopeOwn, file.DownloadRedirect)

		w := api.do(nil, http.MethodGet, "/api/files", nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Own_Scope_Listing_And_Order", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		profA := seed(t, "a@uni.test", policy.RoleProfessor)
		profB := seed(t, "b@uni.test", policy.RoleProfessor)
		student := seed(t, "s@uni.test", policy.RoleStudent)
		api := newAPI(t, pgContainer, storage.NewMemoryStore(), policy.ScopeOwn, file.DownloadRedirect)

		// identical timestamps so only the id breaks the tie
		_, err := pgContainer.DB.ExecContext(context.Background(),
			"ALTER TABLE files ALTER COLUMN created_at SET DEFAULT '2026-09-01 09:00:00+00'")
		require.NoError(t, err)
		defer pgContainer.DB.ExecContext(context.Background(),
			"ALTER TABLE files ALTER COLUMN created_at SET DEFAULT current_timestamp")

		var ids []int64
		for _, up := range []struct {
			p     *policy.Principal
			title string
		}{{profA, "A1"}, {profB, "B1"}, {profA, "A2"}} {
			w := api.upload(up.p, up.title, up.title+".txt", "content "+up.title)
			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			var created createResponse
			decode(t, w, &created)
			ids = append(ids, created.Data.ID)
		}

		list := func(p *policy.Principal) []int64 {
			w := api.do(p, http.MethodGet, "/api/files", nil, "")
			require.Equal(t, http.StatusOK, w.Code)
			var resp listResponse
			decode(t, w, &resp)
			var out []int64
			for _, v := range resp.Data {
				out = append(out, v.ID)
			}
			return out
		}

		assert.Equal(t, []int64{ids[2], ids[0]}, list(profA))
		assert.Equal(t, []int64{ids[1]}, list(profB))
		assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, list(student))
		assert.Equal(t, list(student), list(student))

		w := api.do(profB, http.MethodGet, fmt.Sprintf("/api/files/%d/download", ids[0]), nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Legacy_Delete_Query", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		prof := seed(t, "prof@uni.test", policy.RoleProfessor)
		api := newAPI(t, pgContainer, storage.NewMemoryStore(), policy.ScopeOwn, file.DownloadRedirect)

		w := api.upload(prof, "Notes", "notes.txt", "notes")
		require.Equal(t, http.StatusCreated, w.Code)
		var created createResponse
		decode(t, w, &created)

		w = api.do(prof, http.MethodDelete, fmt.Sprintf("/api/files?id=%d", created.Data.ID), nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = api.do(prof, http.MethodDelete, "/api/files?id=abc", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Download_Redirect", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		prof := seed(t, "prof@uni.test", policy.RoleProfessor)
		student := seed(t, "student@uni.test", policy.RoleStudent)
		api := newAPI(t, pgContainer, storage.NewMemoryStore(), policy.ScopeOwn, file.DownloadRedirect)

		w := api.upload(prof, "Slides", "slides.pdf", "%PDF slides")
		require.Equal(t, http.StatusCreated, w.Code)
		var created createResponse
		decode(t, w, &created)

		w = api.do(student, http.MethodGet, created.Data.DownloadURL, nil, "")
		require.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "response-content-disposition=attachment")
	})

	t.Run("Download_Stream", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		prof := seed(t, "prof@uni.test", policy.RoleProfessor)
		student := seed(t, "student@uni.test", policy.RoleStudent)
		api := newAPI(t, pgContainer, storage.NewMemoryStore(), policy.ScopeOwn, file.DownloadStream)

		w := api.upload(prof, "Slides", "slides.pdf", "%PDF slides")
		require.Equal(t, http.StatusCreated, w.Code)
		var created createResponse
		decode(t, w, &created)

		w = api.do(student, http.MethodGet, created.Data.DownloadURL, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "%PDF slides", w.Body.String())
		assert.Equal(t, "attachment; filename=slides.pdf", w.Header().Get("Content-Disposition"))
	})

	t.Run("Storage_Unavailable", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, "files", "users")
		prof := seed(t, "prof@uni.test", policy.RoleProfessor)
		store := storage.NewMemoryStore()
		api := newAPI(t, pgContainer, store, policy.ScopeOwn, file.DownloadRedirect)

		w := api.upload(prof, "Notes", "notes.txt", "notes")
		require.Equal(t, http.StatusCreated, w.Code)
		var created createResponse
		decode(t, w, &created)

		store.SetFailures(true, true, true)
		w = api.upload(prof, "More", "more.txt", "more")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = api.do(prof, http.MethodDelete, fmt.Sprintf("/api/files/%d", created.Data.ID), nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = api.do(prof, http.MethodGet, "/api/files", nil, "")
		var list listResponse
		decode(t, w, &list)
		assert.Len(t, list.Data, 1, "failed delete leaves the record listed")
	})
}
