package http

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vinscan-service/internal/config"
	"vinscan-service/internal/scan"
	"vinscan-service/internal/settings"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	presets, err := settings.Load("")
	if err != nil {
		t.Fatalf("settings.Load: %v", err)
	}
	cfg := &config.Config{
		Scan: config.ScanConfig{
			DefaultMode:   "text",
			DefaultPreset: "default",
		},
	}
	manager := scan.NewManager(time.Minute, zerolog.Nop())
	h := NewHandler(nil, manager, presets, nil, cfg, zerolog.Nop())
	return NewRouter(h, []string{"*"}, "test-secret", zerolog.Nop())
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", w.Code)
	}
}

func TestValidateVIN(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name      string
		vin       string
		wantValid bool
	}{
		{"valid", "1HGCM82633A004352", true},
		{"bad check digit", "1HGCM82634A004352", false},
		{"too short", "1HGCM8263", false},
		{"lowercase normalized", "1hgcm82633a004352", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/vins/validate", gin.H{"vin": tt.vin})
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var resp struct {
				VIN   string `json:"vin"`
				Valid bool   `json:"valid"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v", resp.Valid, tt.wantValid)
			}
		})
	}
}

func TestValidateVINMissingBody(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/vins/validate", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListPresets(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	found := false
	for _, name := range resp.Data {
		if name == "default" {
			found = true
		}
	}
	if !found {
		t.Errorf("presets %v missing default", resp.Data)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	r := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/sessions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSessionActionNotFound(t *testing.T) {
	r := newTestRouter(t)
	for _, action := range []string{"pause", "resume", "retry", "cancel"} {
		w := doJSON(t, r, http.MethodPost, "/api/v1/sessions/nope/"+action, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", action, w.Code)
		}
	}
}

func TestStartSessionValidation(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing stream url", gin.H{}},
		{"bad mode", gin.H{"stream_url": "http://camera.local/stream", "mode": "sonar"}},
		{"unknown preset", gin.H{"stream_url": "http://camera.local/stream", "preset": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestScanFrameValidation(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/scan/frames", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/scan/frames", gin.H{"image_base64": "not base64!!"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad base64 status = %d, want 400", w.Code)
	}
}

// mjpegCameraServer streams JPEG parts until the client disconnects and
// counts live connections.
func mjpegCameraServer(t *testing.T, active *int32) *httptest.Server {
	t.Helper()
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, image.NewNRGBA(image.Rect(0, 0, 32, 32)), nil); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(active, 1)
		defer atomic.AddInt32(active, -1)
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for {
			pw, err := mw.CreatePart(map[string][]string{"Content-Type": {"image/jpeg"}})
			if err != nil {
				return
			}
			pw.Write(jpg.Bytes())
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
}

func postJSON(t *testing.T, url string, body interface{}) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

// A session must keep scanning after the create request's own context is
// cancelled by net/http; its camera stream stays connected until the
// session ends.
func TestStartSessionOutlivesRequest(t *testing.T) {
	var activeStreams int32
	camera := mjpegCameraServer(t, &activeStreams)
	defer camera.Close()

	api := httptest.NewServer(newTestRouter(t))
	defer api.Close()

	status, body := postJSON(t, api.URL+"/api/v1/sessions", gin.H{
		"stream_url": camera.URL,
		"mode":       "barcode",
	})
	if status != http.StatusCreated {
		t.Fatalf("start session status = %d: %s", status, body)
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The create request has completed and its context is cancelled.
	time.Sleep(500 * time.Millisecond)

	resp, err := http.Get(api.URL + "/api/v1/sessions/" + created.SessionID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session status = %d: %s", resp.StatusCode, data)
	}
	var got struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.State != string(scan.StateScanning) {
		t.Fatalf("session state = %q, want scanning", got.State)
	}
	if n := atomic.LoadInt32(&activeStreams); n != 1 {
		t.Fatalf("live camera connections = %d, want 1", n)
	}

	status, body = postJSON(t, api.URL+"/api/v1/sessions/"+created.SessionID+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", status, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&activeStreams) != 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&activeStreams); n != 0 {
		t.Errorf("camera stream not released after cancel: %d live", n)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/watchlists", gin.H{"name": "x", "type": "stolen"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/cleanup", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}
}
