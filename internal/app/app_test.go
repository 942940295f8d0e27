package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kickhunt/huntsync/internal/config"
	"kickhunt/huntsync/internal/dashboard"
	"kickhunt/huntsync/internal/huntsync"
	"kickhunt/huntsync/internal/model"
	"kickhunt/huntsync/internal/remote/sqlite"
)

func newTestApp(t *testing.T) (*App, *sqlite.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "hunt.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	a := New(config.Config{CallTimeout: 2 * time.Second}, logger)
	a.store = store
	a.hub = dashboard.NewHub(func() []model.Location { return a.sync.Board.Locations() }, logger)
	a.display = huntsync.MultiDisplay{a.hub}
	a.sync = huntsync.New(store, a.display, huntsync.Options{CallTimeout: 2 * time.Second, Logger: logger})
	t.Cleanup(func() { _ = a.hub.Close() })
	return a, store
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthAndReadiness(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.routes()

	if rec, body := doRequest(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", rec.Code, body)
	}
	if rec, _ := doRequest(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start = %d", rec.Code)
	}
	a.ready.Store(true)
	if rec, body := doRequest(t, h, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("readyz = %d %v", rec.Code, body)
	}
}

func TestSaveAndListLocations(t *testing.T) {
	a, store := newTestApp(t)
	h := a.routes()

	rec, body := doRequest(t, h, http.MethodPost, "/api/locations/12", `{"lat":44.5,"lng":-93.1,"confirmed":true,"autoRegistered":true,"discoveredBy":"Runner","discoveredByUser":"runner"}`)
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("save = %d %v", rec.Code, body)
	}

	rows, err := store.SelectLocations(context.Background())
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0].RFIDNumber != 12 || rows[0].DiscoveryMethod != model.MethodAuto {
		t.Fatalf("stored rows %+v", rows)
	}

	rec, body = doRequest(t, h, http.MethodGet, "/api/locations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	locs, ok := body["locations"].([]any)
	if !ok || len(locs) != 1 {
		t.Fatalf("locations = %v", body["locations"])
	}
	first := locs[0].(map[string]any)
	if first["rfidId"] != float64(12) || first["autoRegistered"] != true || first["manuallyRegistered"] != false {
		t.Fatalf("location = %v", first)
	}

	activity, err := store.RecentActivity(context.Background(), 10)
	if err != nil || len(activity) != 1 || activity[0].Type != model.ActivityRFIDDiscovered {
		t.Fatalf("activity = %+v (err %v)", activity, err)
	}
}

func TestSaveLocationValidation(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.routes()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "non numeric id", method: http.MethodPost, path: "/api/locations/abc", body: `{}`, want: http.StatusBadRequest},
		{name: "zero id", method: http.MethodPost, path: "/api/locations/0", body: `{}`, want: http.StatusBadRequest},
		{name: "bad json", method: http.MethodPost, path: "/api/locations/3", body: `{`, want: http.StatusBadRequest},
		{name: "wrong method", method: http.MethodGet, path: "/api/locations/3", want: http.StatusMethodNotAllowed},
		{name: "reload wrong method", method: http.MethodGet, path: "/api/locations/reload", want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := doRequest(t, h, tt.method, tt.path, tt.body); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestReloadLocations(t *testing.T) {
	a, store := newTestApp(t)
	h := a.routes()

	for _, n := range []int{3, 1} {
		if _, err := store.UpsertLocation(context.Background(), model.LocationRow{RFIDNumber: n, DiscoveryMethod: model.MethodManual}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec, body := doRequest(t, h, http.MethodPost, "/api/locations/reload", "")
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("reload = %d %v", rec.Code, body)
	}
	if a.sync.Board.Len() != 2 {
		t.Fatalf("board len = %d", a.sync.Board.Len())
	}
}

func TestReloadFailureAnswersNotOK(t *testing.T) {
	a, store := newTestApp(t)
	h := a.routes()
	a.sync.Board.PutLocation(model.Location{RFIDID: 8})

	_ = store.Close()

	rec, body := doRequest(t, h, http.MethodPost, "/api/locations/reload", "")
	if rec.Code != http.StatusBadGateway || body["ok"] != false {
		t.Fatalf("reload = %d %v", rec.Code, body)
	}
	if a.sync.Board.Len() != 1 {
		t.Fatal("failed reload changed the board")
	}
}

func TestPositionsRoundTrip(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.routes()

	payload := `[["amy","Amy",1.5,2.5,10,2,false],["bob","Bob","3","4","20","7",1],["cal","Cal",0,0,0,2,0]]`
	rec, body := doRequest(t, h, http.MethodPost, "/api/positions", payload)
	if rec.Code != http.StatusOK || body["count"] != float64(3) {
		t.Fatalf("post positions = %d %v", rec.Code, body)
	}

	rec, body = doRequest(t, h, http.MethodGet, "/api/positions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get positions = %d", rec.Code)
	}
	raw, err := json.Marshal(body["contestants"])
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	var got []model.Contestant
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode contestants: %v", err)
	}

	want := []model.Contestant{
		{Username: "bob", DisplayName: "Bob", Lat: 3, Lng: 4, Points: 20, RFIDCount: 7, Cached: true},
		{Username: "amy", DisplayName: "Amy", Lat: 1.5, Lng: 2.5, Points: 10, RFIDCount: 2},
		{Username: "cal", DisplayName: "Cal", RFIDCount: 2},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d contestants, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("contestant %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPositionsRejectsBadTuples(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.routes()

	if rec, _ := doRequest(t, h, http.MethodPost, "/api/positions", `[["short",1]]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if rec, _ := doRequest(t, h, http.MethodPost, "/api/positions", `[["a","A","NaN",2,1,2,false]]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("non-finite coordinate status = %d, want 400", rec.Code)
	}
	if rec, _ := doRequest(t, h, http.MethodPost, "/api/positions", `[["a","A",1,2,1e30,2,false]]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized points status = %d, want 400", rec.Code)
	}
	if got, err := a.sync.Positions.LoadAll(context.Background()); err != nil || len(got) != 0 {
		t.Fatalf("rejected tuples reached the store: %+v (err %v)", got, err)
	}
	if rec, _ := doRequest(t, h, http.MethodDelete, "/api/positions", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestActivityListing(t *testing.T) {
	a, _ := newTestApp(t)
	h := a.routes()

	if rec, body := doRequest(t, h, http.MethodGet, "/api/activity", ""); rec.Code != http.StatusOK || len(body["activity"].([]any)) != 0 {
		t.Fatalf("empty activity = %d %v", rec.Code, body)
	}

	for _, id := range []string{"1", "2", "3"} {
		if rec, _ := doRequest(t, h, http.MethodPost, "/api/locations/"+id, `{"lat":1,"lng":2}`); rec.Code != http.StatusOK {
			t.Fatalf("save %s = %d", id, rec.Code)
		}
	}

	rec, body := doRequest(t, h, http.MethodGet, "/api/activity?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activity = %d", rec.Code)
	}
	entries := body["activity"].([]any)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	details := entries[0].(map[string]any)["details"].(map[string]any)
	if details["method"] != "viewer_guess" {
		t.Fatalf("details = %v", details)
	}
}

func TestOpenRemoteSchemes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "nested", "hunt.db")

	store, err := openRemote(context.Background(), config.Config{RemoteURL: "sqlite://" + path, InitSchema: true}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	if _, err := store.SelectLocations(context.Background()); err != nil {
		t.Fatalf("schema not initialized: %v", err)
	}

	_, err = openRemote(context.Background(), config.Config{RemoteURL: "mysql://user:pw@host/db"}, logger)
	if err == nil || strings.Contains(err.Error(), "pw") {
		t.Fatalf("expected redacted scheme error, got %v", err)
	}
}

func TestMDNSSanitizers(t *testing.T) {
	if got := sanitizeMDNSInstance("Hunt.Box_1\n"); got != "Hunt Box 1" {
		t.Fatalf("instance = %q", got)
	}
	if got := sanitizeMDNSHost(" Hunt Box_1 "); got != "hunt-box-1" {
		t.Fatalf("host = %q", got)
	}
	if got := sanitizeMDNSHost(""); got != "huntsync" {
		t.Fatalf("empty host = %q", got)
	}
	long := strings.Repeat("a", 80)
	if got := sanitizeMDNSInstance(long); len(got) != 63 {
		t.Fatalf("instance not truncated: %d", len(got))
	}
}

func TestBuildAdvert(t *testing.T) {
	tests := []struct {
		name     string
		hostname string
		cfg      config.Config
		instance string
		want     []string
		wantErr  bool
	}{
		{
			name:     "http only",
			hostname: "Field_Box",
			cfg:      config.Config{HTTPPort: 8080},
			instance: "Hunt Dashboard (Field Box)",
			want:     []string{"proto=v1", "http_port=8080", "ws_path=/ws", "api_path=/api", "host=field-box.local"},
		},
		{
			name:     "with broker",
			hostname: "box.lan",
			cfg:      config.Config{HTTPPort: 9000, MQTTBroker: "tcp://broker:1883", MQTTTopicPrefix: "hunt"},
			instance: "Hunt Dashboard (box lan)",
			want:     []string{"proto=v1", "http_port=9000", "ws_path=/ws", "api_path=/api", "host=box.lan", "mqtt_prefix=hunt"},
		},
		{
			name:     "missing hostname",
			cfg:      config.Config{HTTPPort: 80},
			instance: "Hunt Dashboard (huntsync)",
			want:     []string{"proto=v1", "http_port=80", "ws_path=/ws", "api_path=/api", "host=huntsync.local"},
		},
		{name: "bad port", hostname: "x", cfg: config.Config{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ad, err := buildAdvert(tt.hostname, tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ad)
				}
				return
			}
			if err != nil {
				t.Fatalf("build advert: %v", err)
			}
			if ad.instance != tt.instance || ad.port != tt.cfg.HTTPPort {
				t.Fatalf("advert = %+v", ad)
			}
			if strings.Join(ad.txt, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("txt = %v, want %v", ad.txt, tt.want)
			}
		})
	}
}

func TestWebsocketRouteServesHub(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.routes())
	defer srv.Close()

	// A plain GET is not a websocket handshake.
	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
