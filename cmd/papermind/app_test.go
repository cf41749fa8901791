package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"papermind/internal/conversation"
	"papermind/internal/gateway"
	"papermind/internal/pipeline"
	"papermind/internal/session"
	"papermind/internal/tokenstore"
	"papermind/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRejectedQueryClosesLiveSession wires the real gateway, session and
// pipeline the way openApp does and has the backend stop honouring the token
// after login.
func TestRejectedQueryClosesLiveSession(t *testing.T) {
	be := &backend{}
	srv := httptest.NewServer(be.handler())
	t.Cleanup(srv.Close)

	var sess *session.Controller
	gw := gateway.New(srv.URL, 5*time.Second, func() string { return sess.Token() })
	tokens := tokenstore.NewMemory()
	sess = session.New(gw, tokens)
	pipes := pipeline.NewCoordinator(conversation.New(gw, nil), pipeline.Deps{
		Backend: gw,
		Epoch:   func() uint64 { return sess.Current().Epoch },
		OnError: sess.HandleError,
	})

	ctx := context.Background()
	require.NoError(t, sess.Login(ctx, "ada@example.com", "secret"))
	p, err := pipes.ResetConversation(ctx)
	require.NoError(t, err)

	be.rejectFromNowOn()
	err = p.Submit(ctx, "q")
	require.Error(t, err)
	assert.Equal(t, "Could not validate credentials", p.Snapshot().Banner)

	assert.Equal(t, types.StatusUnauthenticated, sess.Current().Status)
	_, ok := tokens.Get(tokenstore.KeyToken)
	assert.False(t, ok)

	assert.Empty(t, sess.Token(), "later document calls carry no token")
}
