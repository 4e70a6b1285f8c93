package file_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"file-service/internal/auth"
	"file-service/internal/file"
	"file-service/internal/policy"
	"file-service/internal/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowBody holds back its content until delay has passed.
type slowBody struct {
	delay time.Duration
	r     io.Reader
	slept bool
}

func (b *slowBody) Read(p []byte) (int, error) {
	if !b.slept {
		time.Sleep(b.delay)
		b.slept = true
	}
	return b.r.Read(p)
}

func (b *slowBody) Close() error { return nil }

// streamOnly serves a single record through OpenDownload.
type streamOnly struct {
	file.Service
	body string
}

func (s streamOnly) OpenDownload(ctx context.Context, p *policy.Principal, id int64) (*file.File, *storage.Object, error) {
	record := &file.File{ID: id, OwnerID: p.UserID, OriginalName: "lecture.mp4", ContentType: "video/mp4"}
	return record, &storage.Object{
		Body:        &slowBody{delay: 300 * time.Millisecond, r: strings.NewReader(s.body)},
		Size:        int64(len(s.body)),
		ContentType: "video/mp4",
	}, nil
}

func TestDownloadStream_OutlivesServerWriteTimeout(t *testing.T) {
	body := strings.Repeat("frame", 64<<10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := file.NewHandler(streamOnly{body: body}, file.DownloadStream, 0, logger)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithPrincipal(req.Context(), student)))
		})
	})
	// wrapped the way the app's logging and metrics middleware wrap it
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor), req)
		})
	})
	h.RegisterRoutes(r)

	srv := httptest.NewUnstartedServer(r)
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/files/7/download")
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Len(t, got, len(body))
}
