package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mianshi-ai/coachd/internal/config"
	"github.com/mianshi-ai/coachd/internal/observability"
	"github.com/mianshi-ai/coachd/internal/protocol"
	"github.com/mianshi-ai/coachd/internal/session"
	"github.com/mianshi-ai/coachd/internal/store"
)

var (
	metricsOnce sync.Once
	metricsInst *observability.Metrics
)

func testMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		metricsInst = observability.NewMetrics("coachd_httpapi_test")
	})
	return metricsInst
}

type echoOrchestrator struct{}

func (echoOrchestrator) RunConnection(ctx context.Context, _ *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if um, ok := msg.(protocol.UserMessage); ok {
				outbound <- protocol.AssistantMessage{
					Type:    protocol.TypeAssistantMessage,
					Content: "收到：" + um.Content,
				}
			}
		}
	}
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Config{SessionInactivityTimeout: 30 * time.Minute}
	mgr := session.NewManager(time.Hour)
	srv := New(cfg, mgr, echoOrchestrator{}, store.NewInMemoryStore(), testMetrics(), config.ProjectProfile{
		ProjectID:         "dev",
		JDText:            "后端开发岗位",
		ResumeText:        "三年开发经验",
		PracticeQuestions: []string{"请做一个简短的自我介绍"},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthReportsStoreMode(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("status = %v", body["status"])
	}
	if body["store_mode"] != "in-memory" {
		t.Fatalf("store_mode = %v", body["store_mode"])
	}
}

func TestCreateSessionFallsBackToProfile(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/sessions", map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var created session.CreateResponse
	decodeBody(t, resp, &created)
	if created.SessionID == "" {
		t.Fatalf("missing session id")
	}
	if created.ProjectID != "dev" {
		t.Fatalf("project = %q, want profile default", created.ProjectID)
	}
	if created.State != session.StateIdle {
		t.Fatalf("state = %q", created.State)
	}

	end, err := http.Post(ts.URL+"/v1/sessions/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	end.Body.Close()
	if end.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d", end.StatusCode)
	}
}

func TestEndUnknownSessionNotFound(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Post(ts.URL+"/v1/sessions/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestConfirmAssetSavesEditedVersion(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/assets/confirm", confirmAssetRequest{
		ProjectID:  "p1",
		Question:   "请做一个简短的自我介绍",
		Transcript: "修改后的回答全文。",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var asset store.Asset
	decodeBody(t, resp, &asset)
	if asset.Kind != store.AssetEdited || asset.Version != 1 {
		t.Fatalf("asset = %+v", asset)
	}

	list, err := http.Get(ts.URL + "/v1/projects/p1/assets")
	if err != nil {
		t.Fatalf("list assets: %v", err)
	}
	var body struct {
		Assets []store.Asset `json:"assets"`
	}
	decodeBody(t, list, &body)
	if len(body.Assets) != 1 {
		t.Fatalf("assets = %d, want 1", len(body.Assets))
	}
}

func TestConfirmAssetRequiresFields(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/assets/confirm", confirmAssetRequest{ProjectID: "p1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSessionWSRoundTrip(t *testing.T) {
	srv, ts := testServer(t)

	sess := srv.sessions.Create(session.ProjectContext{ProjectID: "p1"})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sess.ID

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "message", "content": "你好面试官"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != string(protocol.TypeAssistantMessage) {
		t.Fatalf("type = %q", reply.Type)
	}
	if !strings.Contains(reply.Content, "你好面试官") {
		t.Fatalf("content = %q", reply.Content)
	}
}

func TestSessionWSRejectsInvalidMessage(t *testing.T) {
	srv, ts := testServer(t)

	sess := srv.sessions.Create(session.ProjectContext{ProjectID: "p1"})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sess.ID

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","content":""}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Code != "invalid_client_message" {
		t.Fatalf("code = %q", reply.Code)
	}
}

func TestSessionWSPingsIdleClients(t *testing.T) {
	srv, ts := testServer(t)
	srv.pingPeriod = 20 * time.Millisecond

	sess := srv.sessions.Create(session.ProjectContext{ProjectID: "p1"})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=" + sess.ID

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pinged := make(chan struct{})
	var once sync.Once
	conn.SetPingHandler(func(string) error {
		once.Do(func() { close(pinged) })
		return nil
	})

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ping from an idle connection")
	}
}

func TestSessionWSUnknownSession(t *testing.T) {
	_, ts := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/ws?session_id=missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %+v", resp)
	}
}
