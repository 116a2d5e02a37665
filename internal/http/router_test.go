package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"care-transcript-relay/internal/app"
	"care-transcript-relay/internal/config"
	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/service/stt"
)

func newTestApp(t *testing.T, mutate func(*config.Configuration)) (*app.Application, *httptest.Server) {
	t.Helper()
	cfg := config.Load()
	cfg.STT.Provider = stt.ProviderMock
	cfg.Kafka.Enabled = false
	cfg.Store = config.StoreConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "http.db")}
	cfg.Classifier = config.ClassifierConfig{Scorer: "keyword", Locale: "en"}
	cfg.Relay.AllowedOrigins = nil
	cfg.Relay.FinishTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	application, err := app.New(ctx, cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv := httptest.NewServer(NewRouter(ctx, application))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		application.Shutdown(sctx)
	})
	return application, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	application, srv := newTestApp(t, nil)

	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	application.Shutdown(context.Background())
	resp, _ := http.Get(srv.URL + "/v1/readiness")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", resp.StatusCode)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	_, srv := newTestApp(t, nil)

	resp := postJSON(t, srv.URL+"/classify", `{"transcript":"She had a fever last night. We gave her a bath."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Classified) != 2 {
		t.Fatalf("expected 2 sentences, got %+v", body.Classified)
	}
	if body.Classified[0].Category != models.CategoryObservation || body.Classified[1].Category != models.CategoryActivity {
		t.Errorf("unexpected categories %+v", body.Classified)
	}
}

func TestClassifyEndpoint_EmptyAndInvalid(t *testing.T) {
	_, srv := newTestApp(t, nil)

	resp := postJSON(t, srv.URL+"/classify", `{"transcript":"   "}`)
	var body map[string]json.RawMessage
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || string(body["classified"]) != "[]" {
		t.Errorf("expected 200 with empty list, got %d %s", resp.StatusCode, body["classified"])
	}

	resp = postJSON(t, srv.URL+"/classify", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestTranscriptEndpoints(t *testing.T) {
	_, srv := newTestApp(t, nil)

	resp := postJSON(t, srv.URL+"/v1/transcripts", `{"caregiver_id":"cg-7","raw_text":"He was anxious. I gave him his medication."}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Transcript models.Transcript           `json:"transcript"`
		Sentences  []models.ClassifiedSentence `json:"sentences"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	if created.Transcript.ID == "" || len(created.Sentences) != 2 {
		t.Fatalf("unexpected body %+v", created)
	}

	getResp, err := http.Get(srv.URL + "/v1/caregivers/cg-7/transcripts")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	var list struct {
		Transcripts []models.Transcript `json:"transcripts"`
	}
	json.NewDecoder(getResp.Body).Decode(&list)
	if len(list.Transcripts) != 1 || list.Transcripts[0].ID != created.Transcript.ID {
		t.Errorf("unexpected transcripts %+v", list.Transcripts)
	}

	sResp, err := http.Get(srv.URL + "/v1/transcripts/" + created.Transcript.ID + "/sentences")
	if err != nil {
		t.Fatal(err)
	}
	defer sResp.Body.Close()
	var sentences struct {
		Sentences []models.Sentence `json:"sentences"`
	}
	json.NewDecoder(sResp.Body).Decode(&sentences)
	if len(sentences.Sentences) != 2 || sentences.Sentences[1].SequenceID != 1 {
		t.Errorf("unexpected sentences %+v", sentences.Sentences)
	}

	missing, err := http.Get(srv.URL + "/v1/transcripts/no-such-id/sentences")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown transcript, got %d", missing.StatusCode)
	}

	bad := postJSON(t, srv.URL+"/v1/transcripts", `{"raw_text":"no caregiver"}`)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without caregiver, got %d", bad.StatusCode)
	}
}

func TestTranscriptEndpoints_StoreDisabled(t *testing.T) {
	_, srv := newTestApp(t, func(cfg *config.Configuration) { cfg.Store.Enabled = false })

	resp, err := http.Get(srv.URL + "/v1/caregivers/cg-1/transcripts")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestRelayWebSocket_EndToEnd(t *testing.T) {
	application, srv := newTestApp(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"language":"en-US","caregiver_id":"cg-ws"}`)); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var echo models.ConfigMessage
	if err := conn.ReadJSON(&echo); err != nil {
		t.Fatalf("read config echo: %v", err)
	}
	if echo.Config.Language != "en-US" || echo.Config.Profile != config.ProfileClinical {
		t.Errorf("unexpected echo %+v", echo.Config)
	}

	conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320))
	var partial models.TranscriptMessage
	if err := conn.ReadJSON(&partial); err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if partial.Final || partial.Text == "" {
		t.Errorf("expected a partial, got %+v", partial)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"finish"}`))

	var finals []string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var m models.TranscriptMessage
		if json.Unmarshal(data, &m) == nil && m.Final {
			finals = append(finals, m.Text)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("expected one flushed final, got %q", finals)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := application.Store.GetTranscripts(context.Background(), "cg-ws")
		if len(got) == 1 {
			if got[0].RawText != finals[0] {
				t.Errorf("stored %q, want %q", got[0].RawText, finals[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session transcript was not stored")
}

func TestRelayWebSocket_BadConfig(t *testing.T) {
	_, srv := newTestApp(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"lang":"en"}`))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg models.ErrorMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error message: %v", err)
	}
	if msg.Error == "" {
		t.Error("expected an error message")
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close after a config error")
	}
}

func TestRelayWebSocket_OriginCheck(t *testing.T) {
	_, srv := newTestApp(t, func(cfg *config.Configuration) {
		cfg.Relay.AllowedOrigins = []string{"https://care.example/"}
	})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err == nil {
		t.Fatal("expected handshake to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %+v", resp)
	}

	header.Set("Origin", "https://care.example")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("allowed origin refused: %v", err)
	}
	conn.Close()
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestApp(t, func(cfg *config.Configuration) {
		cfg.Relay.AllowedOrigins = []string{"https://app.example"}
	})

	preflight := func(origin string) *http.Response {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/classify", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Errorf("expected a 2xx preflight answer, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("expected POST to be allowed, got %q", got)
	}

	resp = preflight("https://evil.example")
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got allow-origin %q", got)
	}
}

func TestCORSSimpleRequest(t *testing.T) {
	_, srv := newTestApp(t, nil)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/classify", strings.NewReader(`{"transcript":"She slept."}`))
	req.Header.Set("Origin", "https://any.example")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("expected allow-origin on a simple request when every origin is allowed")
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{nil, "https://any.example", true},
		{[]string{"*"}, "https://any.example", true},
		{[]string{"https://care.example"}, "https://care.example", true},
		{[]string{"https://care.example"}, "https://CARE.example", true},
		{[]string{"https://care.example"}, "http://care.example", false},
		{[]string{"https://care.example"}, "", true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := originChecker(tt.allowed)(req); got != tt.want {
			t.Errorf("allowed=%v origin=%q: got %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}
