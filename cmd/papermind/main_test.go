package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"papermind/internal/tokenstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pdfBytes = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"

// backend is a minimal stand-in for the document service.
type backend struct {
	mu        sync.Mutex
	clears    int
	uploads   int
	questions []string

	// rejectDocuments answers every document call as a stale token would.
	rejectDocuments bool
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Incorrect username or password"}`))
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "tok",
			"user":         map[string]string{"name": "Ada", "email": r.FormValue("username")},
		})
	})
	mux.HandleFunc("POST /auth/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"User": map[string]string{"name": "Ada", "email": "ada@example.com"}})
	})
	mux.HandleFunc("DELETE /clear-embeddings/", func(w http.ResponseWriter, r *http.Request) {
		if b.rejecting(w) {
			return
		}
		b.mu.Lock()
		b.clears++
		b.mu.Unlock()
		writeJSON(w, map[string]string{"message": "cleared"})
	})
	mux.HandleFunc("POST /upload-pdf/", func(w http.ResponseWriter, r *http.Request) {
		if b.rejecting(w) {
			return
		}
		b.mu.Lock()
		b.uploads++
		b.mu.Unlock()
		writeJSON(w, map[string]any{"documentCount": 1})
	})
	mux.HandleFunc("GET /query/", func(w http.ResponseWriter, r *http.Request) {
		if b.rejecting(w) {
			return
		}
		q := r.URL.Query().Get("question")
		b.mu.Lock()
		b.questions = append(b.questions, q)
		b.mu.Unlock()
		writeJSON(w, map[string]string{"answer": "It is about " + q})
	})
	return mux
}

func (b *backend) rejecting(w http.ResponseWriter) bool {
	b.mu.Lock()
	reject := b.rejectDocuments
	b.mu.Unlock()
	if reject {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Could not validate credentials"}`))
	}
	return reject
}

func (b *backend) rejectFromNowOn() {
	b.mu.Lock()
	b.rejectDocuments = true
	b.mu.Unlock()
}

func (b *backend) counts() (clears, uploads int, questions []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clears, b.uploads, append([]string(nil), b.questions...)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type env struct {
	be   *backend
	url  string
	home string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	be := &backend{}
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	home := t.TempDir()
	t.Setenv("PAPERMIND_HOME", home)
	t.Setenv("PAPERMIND_PASSWORD", "")
	t.Setenv("PAPERMIND_DARK_MODE", "")
	return &env{be: be, url: srv.URL, home: home}
}

// run executes one papermind invocation, like a separate process sharing the
// same storage directory.
func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	configPath, apiURL, verbose = "", "", false
	authEmail, authPassword, authName = "", "", ""
	plainOutput = false

	var out bytes.Buffer
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(e.home, "config.yaml"), "--api-url", e.url}, args...))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "papermind v")
}

func TestLoginWhoamiLogout(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as Ada <ada@example.com>")
	clears, _, _ := e.be.counts()
	assert.Equal(t, 1, clears, "login starts a fresh conversation")

	out, err = e.run(t, "", "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Ada <ada@example.com>")

	_, err = e.run(t, "", "logout")
	require.NoError(t, err)

	_, err = e.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "secret\n", "login", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in as")
}

func TestFailedLoginKeepsSessionClosed(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect username or password")

	_, err = e.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestRegisterDoesNotLogIn(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "register", "--name", "Ada", "--email", "ada@example.com", "--password", "pw")
	require.NoError(t, err)
	assert.Contains(t, out, "Account created. Please log in.")

	_, err = e.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestUploadAskAndHistory(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)

	paper := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(paper, []byte(pdfBytes), 0644))

	out, err := e.run(t, "", "upload", paper)
	require.NoError(t, err)
	assert.Contains(t, out, "1 PDF uploaded successfully: paper.pdf")

	out, err = e.run(t, "", "ask", "--plain", "what", "is", "it")
	require.NoError(t, err)
	assert.Contains(t, out, "It is about what is it")
	_, _, questions := e.be.counts()
	assert.Equal(t, []string{"what is it"}, questions)

	// The transcript outlives the process that wrote it.
	out, err = e.run(t, "", "history", "--plain")
	require.NoError(t, err)
	assert.Contains(t, out, "# what is it")
	assert.Contains(t, out, "1 PDF uploaded successfully: paper.pdf")
	assert.Contains(t, out, "user: what is it")
	assert.Contains(t, out, "It is about what is it")
}

func TestUploadRejectsNonPDFBatch(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)

	dir := t.TempDir()
	paper := filepath.Join(dir, "paper.pdf")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(paper, []byte(pdfBytes), 0644))
	require.NoError(t, os.WriteFile(notes, []byte("plain text"), 0644))

	_, err = e.run(t, "", "upload", paper, notes)
	require.Error(t, err)
	assert.Equal(t, "Please select only PDF files", err.Error())
	_, uploads, _ := e.be.counts()
	assert.Zero(t, uploads, "a rejected batch is never sent")
}

func TestAskRequiresLogin(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "ask", "anything")
	assert.ErrorIs(t, err, errNotLoggedIn)
	_, _, questions := e.be.counts()
	assert.Empty(t, questions)
}

func TestRejectedAskClearsStoredToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	e.be.rejectFromNowOn()

	_, err = e.run(t, "", "ask", "--plain", "what", "is", "it")
	require.Error(t, err)
	assert.Equal(t, "Could not validate credentials", err.Error())

	tokens, err := tokenstore.Open(filepath.Join(e.home, "storage.json"))
	require.NoError(t, err)
	_, ok := tokens.Get(tokenstore.KeyToken)
	require.NoError(t, tokens.Close())
	assert.False(t, ok, "a rejected token is removed from shared storage")

	// The profile endpoint would still accept the old token; whoami must not
	// find one to send.
	_, err = e.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestRejectedNewClearsStoredToken(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "login", "--email", "ada@example.com", "--password", "secret")
	require.NoError(t, err)
	e.be.rejectFromNowOn()

	_, err = e.run(t, "", "new")
	require.Error(t, err)

	_, err = e.run(t, "", "whoami")
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestThemeIsShared(t *testing.T) {
	e := newEnv(t)
	out, err := e.run(t, "", "theme", "dark")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	out, err = e.run(t, "", "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	_, err = e.run(t, "", "theme", "purple")
	assert.Error(t, err)
}

func TestJoinArgs(t *testing.T) {
	assert.Equal(t, "one two three", joinArgs([]string{"one", "two", "three"}))
}
