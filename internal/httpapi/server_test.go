package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/audiobob/internal/bot"
	"github.com/MrWong99/audiobob/internal/bot/mock"
	"github.com/MrWong99/audiobob/internal/health"
	mediamock "github.com/MrWong99/audiobob/internal/media/mock"
	"github.com/MrWong99/audiobob/internal/observe"
)

func newTestServer(t *testing.T) (*httptest.Server, *bot.Bot) {
	t.Helper()

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	b := bot.New(&mock.Host{}, &mediamock.Opener{}, bot.Config{}, bot.WithMetrics(m))
	t.Cleanup(b.Close)
	b.OnConnectionAdded(3)
	b.OnConnectionAdded(1)

	srv := New(health.New(), map[string]Inspector{"console": b},
		WithMetrics(m),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "# metrics\n")
		})),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, b
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res.StatusCode, string(body)
}

func TestConnections(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	code, body := get(t, ts.URL+"/debug/connections")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %s", code, body)
	}
	var out []hostConnections
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Host != "console" || len(out[0].Connections) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out[0].Connections[0].Handle != 1 || !out[0].Connections[0].Enabled {
		t.Errorf("first connection = %+v", out[0].Connections[0])
	}
}

func TestConnection(t *testing.T) {
	t.Parallel()

	ts, b := newTestServer(t)
	b.OnTextMessage(t.Context(), 3, "r", "u", "music volume 0.3")

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/debug/connections/3", http.StatusOK, `"volume":0.3`},
		{"/debug/connections/9", http.StatusNotFound, "not_found"},
		{"/debug/connections/abc", http.StatusBadRequest, "invalid_handle"},
	}
	for _, tt := range tests {
		code, body := get(t, ts.URL+tt.path)
		if code != tt.want || !strings.Contains(body, tt.body) {
			t.Errorf("GET %s = %d %s, want %d containing %q", tt.path, code, body, tt.want, tt.body)
		}
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t)
	if code, _ := get(t, ts.URL+"/healthz"); code != http.StatusOK {
		t.Errorf("healthz = %d", code)
	}
	if code, _ := get(t, ts.URL+"/readyz"); code != http.StatusOK {
		t.Errorf("readyz = %d", code)
	}
	if code, body := get(t, ts.URL+"/metrics"); code != http.StatusOK || body != "# metrics\n" {
		t.Errorf("metrics = %d %q", code, body)
	}
}
