package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/polisai/proxydrop/pkg/domain"
	"github.com/polisai/proxydrop/pkg/policy"
	"github.com/polisai/proxydrop/pkg/router"
	"github.com/polisai/proxydrop/pkg/signature"
	"github.com/polisai/proxydrop/pkg/telemetry"
)

const testAppID = "987654321"

type countingGateway struct {
	calls atomic.Int32
}

func (g *countingGateway) Fetch(context.Context) (domain.ProxyCatalog, error) {
	g.calls.Add(1)
	return domain.ProxyCatalog{
		HTTP:   []string{"1.2.3.4:80"},
		HTTPS:  []string{"5.6.7.8:443"},
		SOCKS4: []string{},
		SOCKS5: []string{},
	}, nil
}

type countingRouter struct {
	inner *router.Router
	calls atomic.Int32
}

func (r *countingRouter) Route(ctx context.Context, in domain.Interaction) domain.CommandReply {
	r.calls.Add(1)
	return r.inner.Route(ctx, in)
}

type fixture struct {
	priv    ed25519.PrivateKey
	handler http.Handler
	gateway *countingGateway
	router  *countingRouter
	metrics *telemetry.Metrics
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	engine, err := policy.NewEngine(context.Background(), policy.EngineOptions{})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := &countingGateway{}
	metrics := telemetry.NewMetrics()
	rt := &countingRouter{inner: router.New(router.Config{ApplicationID: testAppID}, gw, engine, metrics, logger)}

	return &fixture{
		priv:    priv,
		gateway: gw,
		router:  rt,
		metrics: metrics,
		handler: NewHandler(HandlerConfig{
			ApplicationID: testAppID,
			Verifier:      signature.NewVerifier(pub),
			Router:        rt,
			Metrics:       metrics,
			Logger:        logger,
		}),
	}
}

func (f *fixture) signedRequest(body string) *http.Request {
	ts := "1700000000"
	sig := ed25519.Sign(f.priv, append([]byte(ts), body...))
	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(body))
	req.Header.Set(signature.HeaderSignature, hex.EncodeToString(sig))
	req.Header.Set(signature.HeaderTimestamp, ts)
	return req
}

func (f *fixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func commandBody(name, channel string) string {
	return `{"type":2,"data":{"name":"` + name + `"},"channel":` + channel + `}`
}

func TestHandler_Handshake(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(`{"type":1}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json;charset=UTF-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"type":1}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestHandler_MissingSignatureHeaders(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{"type":1}`))
	rec := f.serve(req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bad request signature.", rec.Body.String())
	assert.Zero(t, f.router.calls.Load())
	assert.Zero(t, f.gateway.calls.Load())
}

func TestHandler_TamperedBodyRejected(t *testing.T) {
	f := newFixture(t)
	body := commandBody("http", `{"type":0,"name":"proxy"}`)

	rapid.Check(t, func(t *rapid.T) {
		req := f.signedRequest(body)
		tampered := []byte(body)
		i := rapid.IntRange(0, len(tampered)-1).Draw(t, "index")
		tampered[i] ^= byte(rapid.IntRange(1, 255).Draw(t, "mask"))
		req.Body = io.NopCloser(bytes.NewReader(tampered))

		rec := f.serve(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
	assert.Zero(t, f.router.calls.Load())
}

func TestHandler_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(`{"type":2,`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Malformed Payload"}`, rec.Body.String())
	assert.Zero(t, f.router.calls.Load())
}

func TestHandler_Invite(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(commandBody("invite", `{"type":0,"name":"general"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"type":4,"data":{"content":"https://discord.com/oauth2/authorize?client_id=`+testAppID+`","flags":64}}`,
		rec.Body.String())
	assert.Zero(t, f.gateway.calls.Load())
}

func TestHandler_WrongChannel(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(commandBody("http", `{"type":0,"name":"general"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"type":4,"data":{"content":"This command can only be used in a #proxy channel.","flags":64}}`,
		rec.Body.String())
	assert.Zero(t, f.gateway.calls.Load())
}

func TestHandler_AttachmentReply(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(commandBody("all", `{"type":1}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(rec.Body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)

	require.Len(t, form.Value["payload_json"], 1)
	assert.JSONEq(t, `{
		"type": 4,
		"data": {
			"content": "Here are your URL proxies!",
			"attachments": [{"id": 0, "filename": "proxies.txt", "description": "URL Proxies"}]
		}
	}`, form.Value["payload_json"][0])

	require.Len(t, form.File["files[0]"], 1)
	fh := form.File["files[0]"][0]
	assert.Equal(t, "proxies.txt", fh.Filename)
	file, err := fh.Open()
	require.NoError(t, err)
	defer file.Close()
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "http://1.2.3.4:80\nhttps://5.6.7.8:443\n\n", string(content))
}

func TestHandler_UnknownCommand(t *testing.T) {
	f := newFixture(t)
	rec := f.serve(f.signedRequest(commandBody("gopher", `{"type":0,"name":"proxy"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unknown Type"}`, rec.Body.String())
}

func TestHandler_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	body := `{"type":1,"pad":"` + strings.Repeat("x", int(DefaultMaxBodyBytes)) + `"}`
	rec := f.serve(f.signedRequest(body))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, f.router.calls.Load())
}

func TestHandler_RootAndNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "👋 "+testAppID, rec.Body.String())

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/interactions", nil),
		httptest.NewRequest(http.MethodPost, "/", nil),
		httptest.NewRequest(http.MethodGet, "/nope", nil),
	} {
		rec := f.serve(req)
		assert.Equal(t, http.StatusNotFound, rec.Code, req.Method+" "+req.URL.Path)
		assert.Equal(t, "Not Found.", rec.Body.String())
	}
}

func TestHandler_Metrics(t *testing.T) {
	f := newFixture(t)
	f.serve(httptest.NewRequest(http.MethodPost, "/interactions", strings.NewReader(`{}`)))
	f.serve(f.signedRequest(`{"type":1}`))

	rec := f.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `proxydrop_signature_failures_total{reason="missing_headers"} 1`)
	assert.Contains(t, body, `proxydrop_interactions_total{command="",kind="handshake",outcome="pong"} 1`)
	assert.Contains(t, body, "proxydrop_http_requests_total")
}

func TestHandler_RequestIDPropagates(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := f.serve(req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

func TestServer_ServeAndShutdown(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(Options{Addr: ln.Addr().String(), ShutdownTimeout: time.Second}, f.handler,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "👋 "+testAppID, string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
