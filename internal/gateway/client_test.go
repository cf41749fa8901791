package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"papermind/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal PDF header; enough for content sniffing
const pdfBytes = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func newTestClient(t *testing.T, h http.HandlerFunc, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, func() string { return token })
}

func TestAuthenticate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("username") != "ada@example.com" || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","user":{"name":"Ada","email":"ada@example.com"}}`))
	}, "")

	tok, profile, err := c.Authenticate(context.Background(), "ada@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, types.Profile{Name: "Ada", Email: "ada@example.com"}, profile)

	_, _, err = c.Authenticate(context.Background(), "ada@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidCredentials))
	assert.Equal(t, "Incorrect username or password", types.BannerText(err, ""))
}

func TestRegisterClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"created", http.StatusCreated, ``, nil},
		{"conflict", http.StatusConflict, `{"detail":"nope"}`, types.ErrDuplicateAccount},
		{"bad request duplicate", http.StatusBadRequest, `{"detail":"Email already registered"}`, types.ErrDuplicateAccount},
		{"unprocessable", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"}]}`, types.ErrValidation},
		{"server", http.StatusInternalServerError, `{"error":"db down"}`, types.ErrServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "ada@example.com", body["username"])
				assert.Equal(t, "Ada", body["name"])
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, "")
			err := c.Register(context.Background(), types.Registration{Name: "Ada", Email: "ada@example.com", Password: "pw"})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestFetchProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"User":{"id":"7","name":"Ada","email":"ada@example.com"}}`))
	}, "")

	p, err := c.FetchProfile(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "7", p.ID)

	_, err = c.FetchProfile(context.Background(), "bad")
	assert.True(t, errors.Is(err, types.ErrUnauthorized))
}

func TestUploadDocumentsSendsRepeatedFilesField(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.pdf", pdfBytes)
	b := writeFile(t, dir, "b.pdf", pdfBytes)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-pdf/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.pdf", files[0].Filename)
		assert.Equal(t, "b.pdf", files[1].Filename)
		assert.Equal(t, "application/pdf", files[0].Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documentCount":2,"filenames":["a.pdf","b.pdf"]}`))
	}, "tok")

	refs, err := DetectFiles([]string{a, b})
	require.NoError(t, err)
	res, err := c.UploadDocuments(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, UploadResult{DocumentCount: 2, Filenames: []string{"a.pdf", "b.pdf"}}, res)
}

func TestUploadServerError(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.pdf", pdfBytes)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"embedding model offline"}`))
	}, "")

	refs, err := DetectFiles([]string{a})
	require.NoError(t, err)
	_, err = c.UploadDocuments(context.Background(), refs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrServer))
	assert.Equal(t, "embedding model offline", types.BannerText(err, "Failed to upload PDF"))
}

func TestQueryDocuments(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/query/", r.URL.Path)
		assert.Equal(t, "What is the summary?", r.URL.Query().Get("question"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"It is short."}`))
	}, "")

	answer, err := c.QueryDocuments(context.Background(), "What is the summary?")
	require.NoError(t, err)
	assert.Equal(t, "It is short.", answer)
}

func TestClearIndex(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/clear-embeddings/", r.URL.Path)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}, "")

	require.NoError(t, c.ClearIndex(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestDocumentCallsClassifyRejectedToken(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var paths []string
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				paths = append(paths, r.URL.Path)
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
			}, "stale")

			refs, err := DetectFiles([]string{writeFile(t, t.TempDir(), "a.pdf", pdfBytes)})
			require.NoError(t, err)

			_, err = c.UploadDocuments(context.Background(), refs)
			assert.True(t, errors.Is(err, types.ErrUnauthorized), "upload: %v", err)
			assert.Equal(t, "Could not validate credentials", types.BannerText(err, "Failed to upload PDF"))

			_, err = c.QueryDocuments(context.Background(), "q")
			assert.True(t, errors.Is(err, types.ErrUnauthorized), "query: %v", err)
			assert.Equal(t, "Could not validate credentials", types.BannerText(err, ""))

			err = c.ClearIndex(context.Background())
			assert.True(t, errors.Is(err, types.ErrUnauthorized), "clear: %v", err)

			assert.Equal(t, []string{"/upload-pdf/", "/query/", "/clear-embeddings/"}, paths)
		})
	}
}

func TestDocumentErrorKinds(t *testing.T) {
	cases := []struct {
		op     string
		status int
		want   types.ErrorKind
	}{
		{"upload", http.StatusUnauthorized, types.KindUnauthorized},
		{"upload", http.StatusUnsupportedMediaType, types.KindValidation},
		{"upload", http.StatusUnprocessableEntity, types.KindValidation},
		{"upload", http.StatusBadGateway, types.KindServer},
		{"query", http.StatusForbidden, types.KindUnauthorized},
		{"query", http.StatusUnprocessableEntity, types.KindServer},
		{"clear_index", http.StatusInternalServerError, types.KindServer},
	}
	for _, tc := range cases {
		err := documentError(tc.op, tc.status, errorBody{})
		var te *types.Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, tc.want, te.Kind, "%s %d", tc.op, tc.status)
		assert.Equal(t, tc.status, te.Status)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, nil)
	_, err := c.QueryDocuments(context.Background(), "q")
	assert.True(t, errors.Is(err, types.ErrNetwork))
	err = c.ClearIndex(context.Background())
	assert.True(t, errors.Is(err, types.ErrNetwork))
}

func TestTimeoutIsNetworkError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	c := New(srv.URL, 50*time.Millisecond, nil)
	_, err := c.QueryDocuments(context.Background(), "q")
	assert.True(t, errors.Is(err, types.ErrNetwork))
}

func TestDetectFile(t *testing.T) {
	dir := t.TempDir()
	pdf, err := DetectFile(writeFile(t, dir, "doc.pdf", pdfBytes))
	require.NoError(t, err)
	assert.True(t, pdf.IsPDF())
	assert.Equal(t, "doc.pdf", pdf.Name)

	txt, err := DetectFile(writeFile(t, dir, "notes.pdf", "just text, despite the extension"))
	require.NoError(t, err)
	assert.False(t, txt.IsPDF())

	_, err = DetectFile(dir)
	assert.Error(t, err)
	_, err = DetectFiles([]string{filepath.Join(dir, "missing.pdf")})
	assert.Error(t, err)
}
