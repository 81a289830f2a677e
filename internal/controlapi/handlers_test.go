package controlapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexmesh/cortex-id/internal/registry"
)

// fakeInjector records the last payload handed to Inject, and can be
// primed to fail, so handler tests don't need a live node runtime.
type fakeInjector struct {
	lastPayload []byte
	err         error
}

func (f *fakeInjector) Inject(ctx context.Context, payload []byte) error {
	f.lastPayload = payload
	return f.err
}

func newTestServer(t *testing.T, inj *fakeInjector, reg *registry.Registry) *Server {
	t.Helper()
	s := NewServer("127.0.0.1:0", inj, reg, nil, nil)
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{Handler: WithRequestID(mux)}
	return s
}

func TestHandleSendAccepted(t *testing.T) {
	inj := &fakeInjector{}
	s := newTestServer(t, inj, registry.New())

	body := `{"query": "hello mesh"}`
	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp sendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Message envoyé avec succès", resp.Response)

	var comm registry.CommunicatorMessage
	require.NoError(t, json.Unmarshal(inj.lastPayload, &comm))
	assert.Equal(t, "API_Interface", comm.Sender)
	assert.Equal(t, "hello mesh", comm.Payload)
	assert.WithinDuration(t, time.Now(), time.UnixMilli(int64(comm.Timestamp)), 2*time.Second)
}

func TestHandleSendMalformedBody(t *testing.T) {
	inj := &fakeInjector{}
	s := newTestServer(t, inj, registry.New())

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSendPublishFailure(t *testing.T) {
	inj := &fakeInjector{err: assertionError("boom")}
	s := newTestServer(t, inj, registry.New())

	req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(`{"query":"x"}`))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleRegistry(t *testing.T) {
	reg := registry.New()
	reg.UpdateFromAnnounce(registry.AnnounceMsg{NodeID: "peer-1", Shards: []string{"s1"}, Version: "v1", VRAMFreeMB: 1024}, time.Now())

	s := newTestServer(t, &fakeInjector{}, reg)

	req := httptest.NewRequest(http.MethodGet, "/registry", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap registry.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Contains(t, snap.Nodes, "peer-1")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
