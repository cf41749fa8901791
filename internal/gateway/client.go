// Package gateway is the typed HTTP boundary to the ingestion/query backend.
// Every call is single-shot: no retries, batching or caching happen here.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"papermind/internal/logging"
	"papermind/internal/types"

	"github.com/go-resty/resty/v2"
)

// TokenSource returns the bearer token to attach to document calls, or "" when
// there is none.
type TokenSource func() string

// Client implements the backend operations on top of resty.
type Client struct {
	http  *resty.Client
	token TokenSource
}

// New creates a client for baseURL. token may be nil.
func New(baseURL string, timeout time.Duration, token TokenSource) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", "papermind-cli/1.0")
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{http: c, token: token}
}

// =============================================================================
// WIRE SHAPES
// =============================================================================

type tokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type,omitempty"`
	User        types.Profile `json:"user"`
}

type profileResponse struct {
	User types.Profile `json:"User"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UploadResult is the backend's summary of an ingested batch.
type UploadResult struct {
	DocumentCount int      `json:"documentCount"`
	Filenames     []string `json:"filenames"`
}

type queryResponse struct {
	Answer string `json:"answer"`
}

// errorBody covers both {"error": "..."} and FastAPI's {"detail": "..."}.
type errorBody struct {
	Error   string `json:"error"`
	Detail  detail `json:"detail"`
	Message string `json:"message"`
}

// =============================================================================
// AUTH
// =============================================================================

// Authenticate exchanges credentials for a bearer token. Any non-2xx answer is
// InvalidCredentials.
func (c *Client) Authenticate(ctx context.Context, email, password string) (string, types.Profile, error) {
	const op = "authenticate"
	var out tokenResponse
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"username": email, "password": password}).
		SetResult(&out).
		SetError(&eb).
		Post("/auth/token")
	if err != nil {
		return "", types.Profile{}, networkError(op, err)
	}
	if resp.IsError() {
		return "", types.Profile{}, &types.Error{
			Kind:    types.KindInvalidCredentials,
			Op:      op,
			Status:  resp.StatusCode(),
			Message: eb.text("Invalid email or password"),
		}
	}
	if out.AccessToken == "" {
		return "", types.Profile{}, &types.Error{Kind: types.KindServer, Op: op, Status: resp.StatusCode(), Message: "response carried no access token"}
	}
	if out.User.Email == "" {
		out.User.Email = email
	}
	logging.Gateway("authenticated %s", email)
	return out.AccessToken, out.User, nil
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, reg types.Registration) error {
	const op = "register"
	var eb errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(registerRequest{Name: reg.Name, Email: reg.Email, Username: reg.Email, Password: reg.Password}).
		SetError(&eb).
		Post("/auth/")
	if err != nil {
		return networkError(op, err)
	}
	if resp.IsError() {
		msg := eb.text("Registration failed")
		kind := types.KindServer
		switch {
		case resp.StatusCode() == http.StatusConflict:
			kind = types.KindDuplicateAccount
		case resp.StatusCode() == http.StatusBadRequest && mentionsDuplicate(msg):
			kind = types.KindDuplicateAccount
		case resp.StatusCode() == http.StatusBadRequest, resp.StatusCode() == http.StatusUnprocessableEntity:
			kind = types.KindValidation
		}
		return &types.Error{Kind: kind, Op: op, Status: resp.StatusCode(), Message: msg}
	}
	logging.Gateway("registered %s", reg.Email)
	return nil
}

func mentionsDuplicate(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "exist") || strings.Contains(m, "already") || strings.Contains(m, "registered")
}

// FetchProfile validates token and returns its user. Any non-2xx answer is
// Unauthorized.
func (c *Client) FetchProfile(ctx context.Context, token string) (types.Profile, error) {
	const op = "fetch_profile"
	var out profileResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&out).
		Get("/")
	if err != nil {
		return types.Profile{}, networkError(op, err)
	}
	if resp.IsError() {
		return types.Profile{}, &types.Error{Kind: types.KindUnauthorized, Op: op, Status: resp.StatusCode(), Message: "Unauthorized"}
	}
	return out.User, nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// UploadDocuments posts files as a repeated multipart "files" field.
func (c *Client) UploadDocuments(ctx context.Context, files []types.FileRef) (UploadResult, error) {
	const op = "upload"
	if len(files) == 0 {
		return UploadResult{}, types.ValidationError(op, "Please select at least one PDF file")
	}

	req := c.document(ctx)
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, ref := range files {
		f, err := os.Open(ref.Path)
		if err != nil {
			return UploadResult{}, &types.Error{Kind: types.KindValidation, Op: op, Message: fmt.Sprintf("cannot read %s", ref.Name), Err: err}
		}
		opened = append(opened, f)
		req.SetMultipartField("files", ref.Name, types.PDFContentType, f)
	}

	var out UploadResult
	var eb errorBody
	resp, err := req.SetResult(&out).SetError(&eb).Post("/upload-pdf/")
	if err != nil {
		return UploadResult{}, networkError(op, err)
	}
	if resp.IsError() {
		return UploadResult{}, documentError(op, resp.StatusCode(), eb)
	}
	logging.Gateway("uploaded %d documents", len(files))
	return out, nil
}

// QueryDocuments asks a question against the indexed documents.
func (c *Client) QueryDocuments(ctx context.Context, question string) (string, error) {
	const op = "query"
	var out queryResponse
	var eb errorBody
	resp, err := c.document(ctx).
		SetQueryParam("question", question).
		SetResult(&out).
		SetError(&eb).
		Get("/query/")
	if err != nil {
		return "", networkError(op, err)
	}
	if resp.IsError() {
		return "", documentError(op, resp.StatusCode(), eb)
	}
	logging.GatewayDebug("query answered (%d chars)", len(out.Answer))
	return out.Answer, nil
}

// ClearIndex wipes the backend's shared embedding index.
func (c *Client) ClearIndex(ctx context.Context) error {
	const op = "clear_index"
	var eb errorBody
	resp, err := c.document(ctx).SetError(&eb).Delete("/clear-embeddings/")
	if err != nil {
		return networkError(op, err)
	}
	if resp.IsError() {
		return documentError(op, resp.StatusCode(), eb)
	}
	logging.Gateway("index cleared")
	return nil
}

// document builds a request carrying the stored bearer token, if any.
func (c *Client) document(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if tok := c.token(); tok != "" {
		req.SetAuthToken(tok)
	}
	return req
}

// documentError classifies a non-2xx answer from a document endpoint. A
// rejected bearer token is Unauthorized so the session can close itself; the
// server's message is kept for the banner.
func documentError(op string, status int, eb errorBody) error {
	kind := types.KindServer
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = types.KindUnauthorized
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		if op == "upload" {
			kind = types.KindValidation
		}
	}
	return &types.Error{Kind: kind, Op: op, Status: status, Message: eb.text("")}
}

// networkError classifies transport failures, timeouts included.
func networkError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &types.Error{Kind: types.KindNetwork, Op: op, Message: "request cancelled", Err: err}
	}
	logging.Get(logging.CategoryGateway).Warn("%s transport error: %v", op, err)
	return &types.Error{Kind: types.KindNetwork, Op: op, Err: err}
}
