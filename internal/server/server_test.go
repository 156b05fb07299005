package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
	"github.com/shaunagostinho/mbe-dash/internal/ecu"
	"github.com/shaunagostinho/mbe-dash/internal/mbe"
	"github.com/shaunagostinho/mbe-dash/internal/store"
)

func newTestServer(t *testing.T, st *store.Store) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")

	defs, err := ec2.Load("testdata/sample.ec2")
	require.NoError(t, err)
	cat, err := mbe.NewCatalog(defs)
	require.NoError(t, err)

	follow := mbe.NewFollowList(cat)
	require.Equal(t, 2, follow.AddList([]string{"RT_COOLANTTEMP1(LIM)", "RT_AIRTEMP1(LIM)"}, 0))

	fix, err := ecu.LoadFixture("")
	require.NoError(t, err)
	require.NoError(t, fix.Connect())

	return New(cfg, fix, cat, follow, st)
}

func getJSON(t *testing.T, h http.Handler, target string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if v != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}
	return rec
}

func TestCatalogEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	var out []VariableInfo
	rec := getJSON(t, s.Handler(), "/api/catalog", &out)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out, 8)

	var air VariableInfo
	for _, v := range out {
		if v.Name == "RT_AIRTEMP1(LIM)" {
			air = v
		}
	}
	assert.Equal(t, "0x1a", air.Page)
	assert.Equal(t, "0x6652", air.Address)
	assert.Equal(t, "C", air.Units)
	assert.Equal(t, -40.0, air.Min)
	assert.True(t, air.Followed)
}

func TestValuesAfterCycle(t *testing.T) {
	s := newTestServer(t, nil)

	var vals []mbe.DecodedValue
	getJSON(t, s.Handler(), "/api/values", &vals)
	assert.Empty(t, vals)

	s.handleCycle(context.Background(), s.poller.PollOnce())

	getJSON(t, s.Handler(), "/api/values", &vals)
	require.Len(t, vals, 2)
	assert.Equal(t, "RT_AIRTEMP1(LIM)", vals[0].Name)
	assert.InDelta(t, 92.0, vals[0].Value, 1e-9)
	assert.Equal(t, "RT_COOLANTTEMP1(LIM)", vals[1].Name)
	assert.InDelta(t, float64(0x6b74)*255/65535-40, vals[1].Value, 1e-9)

	var st LinkStatus
	getJSON(t, s.Handler(), "/api/status", &st)
	assert.EqualValues(t, 1, st.Cycles)
	assert.Zero(t, st.Aborted)
	assert.True(t, st.Connected)
	assert.NotZero(t, st.Updated)
}

func TestStatusCountsAbortedCycles(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.prov.Close())

	s.handleCycle(context.Background(), mbe.CycleResult{At: time.Now(), Err: mbe.ErrNoResponse})

	st := s.linkStatus()
	assert.EqualValues(t, 1, st.Aborted)
	assert.Contains(t, st.LastError, "no response")
	assert.True(t, st.Connected, "an aborted cycle on a dropped link triggers a reconnect")
}

func TestHistoryEndpoint(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	s := newTestServer(t, st)
	s.handleCycle(context.Background(), s.poller.PollOnce())

	q := url.Values{"name": {"RT_AIRTEMP1(LIM)"}, "limit": {"5"}}
	var samples []store.Sample
	rec := getJSON(t, s.Handler(), "/api/history?"+q.Encode(), &samples)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, samples, 1)
	assert.InDelta(t, 92.0, samples[0].Value, 1e-9)
	assert.Equal(t, "C", samples[0].Units)

	rec = getJSON(t, s.Handler(), "/api/history?name=RT_AIRTEMP1&limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var names []string
	rec = getJSON(t, s.Handler(), "/api/history", &names)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"RT_AIRTEMP1(LIM)", "RT_COOLANTTEMP1(LIM)"}, names)
}

func TestPruneHistory(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	s := newTestServer(t, st)
	now := time.Now()
	require.NoError(t, st.Record(context.Background(), now.AddDate(0, 0, -10),
		[]mbe.DecodedValue{{Name: "RT_AIRTEMP1(LIM)", Value: 20}}))
	require.NoError(t, st.Record(context.Background(), now,
		[]mbe.DecodedValue{{Name: "RT_AIRTEMP1(LIM)", Value: 21}}))

	// Retention changed over the API takes effect on the next prune
	require.NoError(t, s.cfg.UpdateFromJSON([]byte(`{"store":{"retainDays":0}}`)))
	n, err := s.pruneHistory(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.cfg.UpdateFromJSON([]byte(`{"store":{"retainDays":7}}`)))
	n, err = s.pruneHistory(context.Background(), now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	left, err := st.Recent(context.Background(), "RT_AIRTEMP1(LIM)", 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, 21.0, left[0].Value)
}

func TestHistoryDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	rec := getJSON(t, s.Handler(), "/api/history?name=RT_AIRTEMP1(LIM)", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func postInterpret(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/interpret", strings.NewReader(body)))
	return rec
}

func TestInterpretEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postInterpret(t, s, `{"request":"01000000001a525c5d","response":"81846e12"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var ex mbe.Exchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	assert.EqualValues(t, 0x1a, ex.Page)
	require.Len(t, ex.Fields, 2)
	assert.Equal(t, "RT_AIRTEMP1(LIM)", ex.Fields[0].Name)
	assert.Equal(t, "RT_BATTERYVOLTAGE(LIM)", ex.Fields[1].Name)
	assert.EqualValues(t, 0x126e, ex.Fields[1].Raw)
}

func TestInterpretEndpoint_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := postInterpret(t, s, `{"request":"01000000001a525c5d","response":"81846e"}`)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	var ex mbe.Exchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	assert.Len(t, ex.Fields, 1)

	rec = postInterpret(t, s, `{"request":"zz","response":"81"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postInterpret(t, s, `{"request":"01000000001a52","response":"0084"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = getJSON(t, s.Handler(), "/api/interpret", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config",
		strings.NewReader(`{"display":{"precision":3}}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg map[string]map[string]interface{}
	getJSON(t, h, "/api/config", &cfg)
	assert.EqualValues(t, 3, cfg["display"]["precision"])
	assert.Equal(t, "fixture", cfg["ecu"]["type"], "unrelated sections survive the merge")
	assert.FileExists(t, s.cfg.path)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(`{`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebSocketInitialFrame(t *testing.T) {
	s := newTestServer(t, nil)
	s.poller.PollOnce()

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))

	require.NotNil(t, frame.Display)
	assert.Equal(t, 2, frame.Display.Precision)
	require.NotNil(t, frame.Status)
	assert.Equal(t, "Fixture (Captured)", frame.Status.Provider)
	assert.Len(t, frame.Values, 2)
}

func TestCheckAlerts(t *testing.T) {
	alerts := []AlertConfig{
		{Variable: "RT_COOLANTTEMP1(LIM)", Low: -40, High: 105},
		{Variable: "RT_BATTERYVOLTAGE(LIM)", Low: 12, High: 15.5},
		{Variable: "RT_AIRTEMP1(LIM)", Low: 0, High: 0}, // disabled
		{Variable: "RT_MISSING", Low: 0, High: 1},
	}
	vals := []mbe.DecodedValue{
		{Name: "RT_COOLANTTEMP1(LIM)", Value: 112},
		{Name: "RT_BATTERYVOLTAGE(LIM)", Value: 11.2},
		{Name: "RT_AIRTEMP1(LIM)", Value: 300},
	}

	got := checkAlerts(alerts, vals)
	assert.Equal(t, []Alert{
		{Name: "RT_COOLANTTEMP1(LIM)", Value: 112, Level: "high"},
		{Name: "RT_BATTERYVOLTAGE(LIM)", Value: 11.2, Level: "low"},
	}, got)

	assert.Nil(t, checkAlerts(nil, vals))
	assert.Empty(t, checkAlerts(alerts, []mbe.DecodedValue{{Name: "RT_COOLANTTEMP1(LIM)", Value: 90}}))
}
