package hostws_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ostrem/visage/internal/engine"
	"github.com/ostrem/visage/internal/hostws"
	"github.com/ostrem/visage/internal/modules/viseme"
	"github.com/ostrem/visage/internal/observe"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// stubHandler records dispatched commands.
type stubHandler struct {
	mu        sync.Mutex
	scheduled []engine.Snippet
	removed   []string
	gazes     map[string]float64
	said      []string
	expressed []string
	inputs    []string
	inputErr  error
}

func (h *stubHandler) Schedule(_ context.Context, sn engine.Snippet) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sn.Name == "" {
		return "", errors.New("snippet name is required")
	}
	h.scheduled = append(h.scheduled, sn)
	return "instance-1", nil
}

func (h *stubHandler) Remove(_ context.Context, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, name)
	return name != "missing"
}

func (h *stubHandler) Gaze(_ context.Context, axis string, value float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gazes == nil {
		h.gazes = make(map[string]float64)
	}
	h.gazes[axis] = value
	return nil
}

func (h *stubHandler) Say(_ context.Context, utteranceID string, phonemes []viseme.Phoneme) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.said = append(h.said, utteranceID)
	return nil
}

func (h *stubHandler) Express(_ context.Context, name string, _ float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expressed = append(h.expressed, name)
	return nil
}

func (h *stubHandler) Input(_ context.Context, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = append(h.inputs, text)
	return h.inputErr
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// startServer spins up the hostws server behind httptest and dials one client.
func startServer(t *testing.T, handler hostws.CommandHandler) (*hostws.Server, *websocket.Conn) {
	t.Helper()
	srv := hostws.NewServer(handler, hostws.WithMetrics(testMetrics(t)))

	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	waitForClients(t, srv, 1)
	return srv, conn
}

func waitForClients(t *testing.T, srv *hostws.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.ClientCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d clients, have %d", want, srv.ClientCount())
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
}

// ── Command dispatch ──────────────────────────────────────────────────────────

func TestSchedule_AckCarriesInstanceID(t *testing.T) {
	handler := &stubHandler{}
	_, conn := startServer(t, handler)

	writeJSON(t, conn, map[string]any{
		"command": "schedule",
		"snippet": map[string]any{
			"name":    "wave",
			"maxTime": 1.0,
			"curves": map[string]any{
				"arm.raise": []map[string]float64{
					{"time": 0, "intensity": 0},
					{"time": 1, "intensity": 1},
				},
			},
		},
	})

	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "ack" || reply.Command != "schedule" {
		t.Fatalf("reply = %+v, want schedule ack", reply)
	}
	if reply.ID != "instance-1" {
		t.Errorf("reply.ID = %q, want instance-1", reply.ID)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.scheduled) != 1 || handler.scheduled[0].Name != "wave" {
		t.Errorf("scheduled = %+v", handler.scheduled)
	}
}

func TestRemove_ReportsRemoved(t *testing.T) {
	_, conn := startServer(t, &stubHandler{})

	writeJSON(t, conn, map[string]any{"command": "remove", "name": "missing"})

	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "ack" {
		t.Fatalf("reply = %+v, want ack", reply)
	}
	if reply.Removed == nil || *reply.Removed {
		t.Errorf("removed = %v, want false for unknown snippet", reply.Removed)
	}
}

func TestSay_DecodesPhonemes(t *testing.T) {
	handler := &stubHandler{}
	_, conn := startServer(t, handler)

	writeJSON(t, conn, map[string]any{
		"command":     "say",
		"utteranceId": "utt-9",
		"phonemes": []map[string]any{
			{"class": "plosive", "durationMs": 50},
			{"class": "longVowel", "durationMs": 140},
		},
	})

	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "ack" {
		t.Fatalf("reply = %+v, want ack", reply)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.said) != 1 || handler.said[0] != "utt-9" {
		t.Errorf("said = %v, want [utt-9]", handler.said)
	}
}

func TestSay_RejectsUnknownPhonemeClass(t *testing.T) {
	_, conn := startServer(t, &stubHandler{})

	writeJSON(t, conn, map[string]any{
		"command":     "say",
		"utteranceId": "utt-1",
		"phonemes":    []map[string]any{{"class": "click", "durationMs": 50}},
	})

	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "error" {
		t.Fatalf("reply = %+v, want error", reply)
	}
	if !strings.Contains(reply.Error, "unknown class") {
		t.Errorf("error = %q, want mention of unknown class", reply.Error)
	}
}

func TestUnknownCommand_Rejected(t *testing.T) {
	_, conn := startServer(t, &stubHandler{})

	writeJSON(t, conn, map[string]any{"command": "teleport"})

	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "error" {
		t.Fatalf("reply = %+v, want error", reply)
	}
}

func TestGazeAndInput_Dispatched(t *testing.T) {
	handler := &stubHandler{}
	_, conn := startServer(t, handler)

	writeJSON(t, conn, map[string]any{"command": "gaze", "axis": "eyes.x", "value": 0.5})
	var reply hostws.Reply
	readJSON(t, conn, &reply)
	if reply.Type != "ack" {
		t.Fatalf("gaze reply = %+v, want ack", reply)
	}

	writeJSON(t, conn, map[string]any{"command": "input", "text": "hello there"})
	readJSON(t, conn, &reply)
	if reply.Type != "ack" {
		t.Fatalf("input reply = %+v, want ack", reply)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.gazes["eyes.x"] != 0.5 {
		t.Errorf("gazes = %v", handler.gazes)
	}
	if len(handler.inputs) != 1 || handler.inputs[0] != "hello there" {
		t.Errorf("inputs = %v", handler.inputs)
	}
}

// ── Frame broadcast ───────────────────────────────────────────────────────────

func TestFlush_BroadcastsBufferedFrame(t *testing.T) {
	srv, conn := startServer(t, &stubHandler{})

	// Idle flush stays silent on the wire.
	srv.Flush(context.Background())

	if err := srv.ApplyChannel("mouth.open", 0.9); err != nil {
		t.Fatalf("ApplyChannel: %v", err)
	}
	if err := srv.SetAxis("eyes.x", -0.25); err != nil {
		t.Fatalf("SetAxis: %v", err)
	}
	srv.SnippetEnded("speech/utt-1")
	srv.Flush(context.Background())

	var frame hostws.Frame
	readJSON(t, conn, &frame)
	if frame.Type != "frame" {
		t.Fatalf("frame type = %q, want frame", frame.Type)
	}
	if got := frame.Outputs["mouth.open"]; got != 0.9 {
		t.Errorf("outputs[mouth.open] = %v, want 0.9", got)
	}
	if got := frame.Axes["eyes.x"]; got != -0.25 {
		t.Errorf("axes[eyes.x] = %v, want -0.25", got)
	}
	if len(frame.Ended) != 1 || frame.Ended[0] != "speech/utt-1" {
		t.Errorf("ended = %v, want [speech/utt-1]", frame.Ended)
	}
}

func TestFlush_ClearsBetweenTicks(t *testing.T) {
	srv, conn := startServer(t, &stubHandler{})

	_ = srv.ApplyChannel("brow.raise", 0.4)
	srv.Flush(context.Background())

	var first hostws.Frame
	readJSON(t, conn, &first)

	_ = srv.ApplyChannel("mouth.open", 0.1)
	srv.Flush(context.Background())

	var second hostws.Frame
	readJSON(t, conn, &second)
	if _, stale := second.Outputs["brow.raise"]; stale {
		t.Errorf("second frame still carries brow.raise: %+v", second)
	}
	if len(second.Ended) != 0 {
		t.Errorf("second frame carries stale end notices: %v", second.Ended)
	}
}

// ── HTTP surface ──────────────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	srv := hostws.NewServer(nil, hostws.WithMetrics(testMetrics(t)))
	mux := http.NewServeMux()
	srv.Routes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
