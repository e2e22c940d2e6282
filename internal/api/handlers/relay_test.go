package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/printlink/printlink/internal/api"
	"github.com/printlink/printlink/internal/api/handlers"
	"github.com/printlink/printlink/internal/api/middleware"
	"github.com/printlink/printlink/internal/config"
	"github.com/printlink/printlink/internal/core"
	"github.com/printlink/printlink/internal/events"
)

// startFakePrinter answers every command line with the given response.
func startFakePrinter(t *testing.T, response string) core.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				r := bufio.NewReader(c)
				for {
					if _, err := r.ReadString('\n'); err != nil {
						return
					}
					if _, err := c.Write([]byte(response)); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return core.Endpoint{ID: 1, IPAddress: addr.IP.String(), Port: addr.Port}
}

func newRelayStack(t *testing.T, authCfg config.AuthConfig) (*gin.Engine, *core.Gateway, *events.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tm := core.DefaultTimings()
	tm.HandshakeSettle = 20 * time.Millisecond
	tm.IdleWindow = 100 * time.Millisecond
	tm.EphemeralCeiling = 400 * time.Millisecond
	tm.SessionCeiling = 400 * time.Millisecond

	reg := core.NewRegistry()
	sup := core.NewSupervisor(reg, tm, nil)
	gateway := core.NewGateway(sup, core.NewChannel(reg, sup))
	t.Cleanup(sup.CloseAll)

	hub := events.NewHub()
	relay := handlers.NewRelayHandler(gateway, hub, "test")
	router := api.NewRouter(relay, middleware.NewAuthMiddleware(authCfg))
	return router, gateway, hub
}

func doJSON(router *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRelayInfo(t *testing.T) {
	router, _, _ := newRelayStack(t, config.AuthConfig{})

	w := doJSON(router, http.MethodGet, "/relay/info", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info handlers.InfoResponse
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !info.Relay || info.Version != "test" {
		t.Errorf("info = %+v", info)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("no request id header")
	}
}

func TestRelayConnectSendDisconnect(t *testing.T) {
	router, _, _ := newRelayStack(t, config.AuthConfig{})
	ep := startFakePrinter(t, "80.1.3>")

	body, _ := json.Marshal(gin.H{"id": ep.ID, "ip_address": ep.IPAddress, "port": ep.Port})
	w := doJSON(router, http.MethodPost, "/relay/connect", string(body), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", w.Code, w.Body.String())
	}
	var conn core.ConnectResult
	if err := json.Unmarshal(w.Body.Bytes(), &conn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !conn.Success || conn.Reused {
		t.Fatalf("connect = %+v", conn)
	}

	w = doJSON(router, http.MethodPost, "/relay/send-command", `{"id":1,"command":"^VV"}`, nil)
	var cmd core.CommandResult
	if err := json.Unmarshal(w.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !cmd.Success || !strings.Contains(cmd.Response, "80.1.3") {
		t.Fatalf("send = %+v", cmd)
	}

	w = doJSON(router, http.MethodPost, "/relay/disconnect", `{"id":1}`, nil)
	if !bytes.Contains(w.Body.Bytes(), []byte(`"success":true`)) {
		t.Fatalf("disconnect = %s", w.Body.String())
	}
}

func TestRelayLogicalFailureIsHTTP200(t *testing.T) {
	router, _, _ := newRelayStack(t, config.AuthConfig{})

	w := doJSON(router, http.MethodPost, "/relay/send-command", `{"id":55,"command":"^VV"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for logical failure", w.Code)
	}
	var cmd core.CommandResult
	if err := json.Unmarshal(w.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.Success || cmd.ErrorKind != "not_connected" {
		t.Errorf("result = %+v", cmd)
	}
}

func TestRelayMalformedBody(t *testing.T) {
	router, _, _ := newRelayStack(t, config.AuthConfig{})

	cases := []string{
		`{not json`,
		`{"id":1}`,                              // missing fields
		`{"id":1,"ip_address":"x","port":9100}`, // bad ip
	}
	for _, body := range cases {
		w := doJSON(router, http.MethodPost, "/relay/connect", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
			continue
		}
		var resp handlers.ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Errorf("body %q: unmarshal: %v", body, err)
			continue
		}
		if resp.Success || resp.Kind != "invalid_request" {
			t.Errorf("body %q: resp = %+v", body, resp)
		}
	}
}

func TestRelayUnknownRoute(t *testing.T) {
	router, _, _ := newRelayStack(t, config.AuthConfig{})

	w := doJSON(router, http.MethodPost, "/relay/reboot", `{}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var resp handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Kind != "unknown_route" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRelayCheckStatus(t *testing.T) {
	router, gateway, _ := newRelayStack(t, config.AuthConfig{})
	gateway.SetProber(func(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
		return 4 * time.Millisecond, nil
	})

	body := `{"printers":[{"id":1,"ip_address":"10.0.0.1","port":2030},{"id":2,"ip_address":"10.0.0.2","port":2030}]}`
	w := doJSON(router, http.MethodPost, "/relay/check-status", body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var results []core.StatusResult
	if err := json.Unmarshal(w.Body.Bytes(), &results); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(results) != 2 || !results[0].IsAvailable || results[1].ID != 2 {
		t.Errorf("results = %+v", results)
	}

	w = doJSON(router, http.MethodPost, "/relay/check-status", `{"printers":[]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch status = %d, want 400", w.Code)
	}
}

func TestRelayAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	router, _, _ := newRelayStack(t, config.AuthConfig{
		Enabled:      true,
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
	})

	// info stays open for discovery
	if w := doJSON(router, http.MethodGet, "/relay/info", "", nil); w.Code != http.StatusOK {
		t.Errorf("info status = %d", w.Code)
	}

	if w := doJSON(router, http.MethodPost, "/relay/disconnect", `{"id":1}`, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", w.Code)
	}

	w := doJSON(router, http.MethodPost, "/relay/token", `{"password":"wrong"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", w.Code)
	}

	w = doJSON(router, http.MethodPost, "/relay/token", `{"password":"hunter2"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", w.Code, w.Body.String())
	}
	var tok middleware.TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &tok); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !tok.Success || tok.Token == "" {
		t.Fatalf("token = %+v", tok)
	}

	header := http.Header{"Authorization": []string{"Bearer " + tok.Token}}
	if w := doJSON(router, http.MethodPost, "/relay/disconnect", `{"id":1}`, header); w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d: %s", w.Code, w.Body.String())
	}
}

func TestRelayEventStream(t *testing.T) {
	router, _, hub := newRelayStack(t, config.AuthConfig{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(&events.Payload{ID: "e1", Event: events.EventConnected})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var payload events.Payload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read: %v", err)
	}
	if payload.Event != events.EventConnected {
		t.Errorf("event = %q", payload.Event)
	}
}
