package beaconecho_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconkit/beacon"
	beaconecho "github.com/beaconkit/beacon/echo"
)

func newSession(t *testing.T, components ...beacon.Component) (*beacon.Session, *beacon.MockTransport) {
	t.Helper()
	transport := &beacon.MockTransport{}
	s, err := beacon.NewSession(beacon.SessionOptions{
		Endpoint:    "https://collect.example.com/",
		Transport:   transport,
		Compression: "none",
		FlushDelay:  time.Hour,
		Components:  components,
		Context:     t.Name(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Teardown)
	return s, transport
}

func sentStates(t *testing.T, s *beacon.Session, transport *beacon.MockTransport) []beacon.State {
	t.Helper()
	s.Flush()
	var states []beacon.State
	for _, send := range transport.Sends() {
		batch, _, err := beacon.DecodePayload(send.Payload, "none")
		require.NoError(t, err)
		for _, event := range batch.Events {
			record, err := beacon.DecodeRecord(event)
			require.NoError(t, err)
			if record.Type != beacon.KindInstrumentation {
				states = append(states, record.State)
			}
		}
	}
	return states
}

func newEcho(m *beaconecho.Middleware) *echo.Echo {
	e := echo.New()
	e.Use(m.Handle)
	e.GET("/users/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "user "+c.Param("id"))
	})
	e.GET("/fail", func(echo.Context) error {
		return errors.New("db down")
	})
	e.GET("/gone", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusGone, "gone")
	})
	e.GET("/panic", func(echo.Context) error {
		panic("boom")
	})
	return e
}

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddlewareRecordsRoutes(t *testing.T) {
	m := beaconecho.New(beaconecho.Options{})
	s, transport := newSession(t, m)
	require.True(t, s.Activate())
	e := newEcho(m)

	assert.Equal(t, http.StatusOK, serve(e, "/users/7").Code)
	assert.Equal(t, http.StatusGone, serve(e, "/gone").Code)

	states := sentStates(t, s, transport)
	require.Len(t, states, 2)
	assert.Equal(t, "GET /users/:id", states[0].(beacon.PerformanceState).Name)
	assert.Equal(t, beaconecho.EntryTypeServer, states[0].(beacon.PerformanceState).EntryType)
	assert.Equal(t, "GET /gone", states[1].(beacon.PerformanceState).Name)
}

func TestMiddlewareRecordErrors(t *testing.T) {
	m := beaconecho.New(beaconecho.Options{RecordErrors: true})
	s, transport := newSession(t, m)
	require.True(t, s.Activate())
	e := newEcho(m)

	assert.Equal(t, http.StatusInternalServerError, serve(e, "/fail").Code)
	assert.Equal(t, http.StatusGone, serve(e, "/gone").Code)

	states := sentStates(t, s, transport)
	require.Len(t, states, 3)
	assert.Equal(t, beacon.ErrorState{Message: "db down", Source: "GET /fail"}, states[1])
	assert.IsType(t, beacon.PerformanceState{}, states[2])
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	m := beaconecho.New(beaconecho.Options{})
	s, transport := newSession(t, m)
	require.True(t, s.Activate())
	e := newEcho(m)

	assert.Equal(t, http.StatusInternalServerError, serve(e, "/panic").Code)

	states := sentStates(t, s, transport)
	require.Len(t, states, 2)
	errState, ok := states[0].(beacon.ErrorState)
	require.True(t, ok)
	assert.Equal(t, "boom", errState.Message)
	assert.Equal(t, "GET /panic", errState.Source)
	assert.NotEmpty(t, errState.Stack)
}

func TestMiddlewareRepanic(t *testing.T) {
	m := beaconecho.New(beaconecho.Options{Repanic: true})
	s, transport := newSession(t, m)
	require.True(t, s.Activate())
	e := newEcho(m)

	assert.Panics(t, func() { serve(e, "/panic") })
	assert.Len(t, sentStates(t, s, transport), 2)
}

func TestMiddlewareInactive(t *testing.T) {
	e := newEcho(beaconecho.New(beaconecho.Options{}))
	assert.Equal(t, "user 1", serve(e, "/users/1").Body.String())
}
