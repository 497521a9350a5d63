package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
	"go.viam.com/netft/referenceframe"
	"go.viam.com/netft/spatialmath"
	"go.viam.com/netft/storage"
	"go.viam.com/netft/wrench"
)

type fakeService struct {
	*pipeline.Pipeline
	history []storage.OperationRecord
}

func (f *fakeService) History(_ context.Context, limit int) ([]storage.OperationRecord, error) {
	if limit > 0 && limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func newTestServer(t *testing.T) (*Server, *fakeService, *Hub, referenceframe.FrameSystem) {
	t.Helper()
	return newLoggedTestServer(t, logging.NewTestLogger(t))
}

func newLoggedTestServer(t *testing.T, logger logging.Logger) (*Server, *fakeService, *Hub, referenceframe.FrameSystem) {
	t.Helper()
	fs, err := referenceframe.NewFrameSystemFromConfig("web", []referenceframe.LinkConfig{
		{ID: "ft", Parent: referenceframe.World, Dynamic: true},
	})
	test.That(t, err, test.ShouldBeNil)
	p, err := pipeline.New(pipeline.Config{Frames: pipeline.DefaultFrameSet()}, fs, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	svc := &fakeService{Pipeline: p}
	hub := NewHub(logger)
	return NewServer(svc, hub, logger), svc, hub, fs
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestOutputsAndStatus(t *testing.T) {
	s, svc, _, fs := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/outputs", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusServiceUnavailable)

	test.That(t, fs.SetPose("ft", spatialmath.NewZeroPose(), time.Now()), test.ShouldBeNil)
	_, err := svc.Update(context.Background(), wrench.Wrench{Force: r3.Vector{Z: 4}})
	test.That(t, err, test.ShouldBeNil)

	rec = doRequest(t, s, http.MethodGet, "/api/outputs", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var out pipeline.Outputs
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &out), test.ShouldBeNil)
	test.That(t, out.RawSensor.Force.Z, test.ShouldEqual, 4.)

	rec = doRequest(t, s, http.MethodGet, "/api/status", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var report pipeline.Report
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &report), test.ShouldBeNil)
	test.That(t, report.Samples, test.ShouldEqual, 1)

	rec = doRequest(t, s, http.MethodGet, "/api/ops", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var ops []opInfo
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &ops), test.ShouldBeNil)
	test.That(t, ops, test.ShouldHaveLength, len(pipeline.Ops()))
}

func TestCalibrationEndpoint(t *testing.T) {
	s, svc, _, fs := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/calibration/set_fixed_bias", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusConflict)
	var resp pipeline.Response
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeFalse)

	test.That(t, fs.SetPose("ft", spatialmath.NewZeroPose(), time.Now()), test.ShouldBeNil)
	_, err := svc.Update(context.Background(), wrench.Wrench{Force: r3.Vector{X: 1}})
	test.That(t, err, test.ShouldBeNil)

	rec = doRequest(t, s, http.MethodPost, "/api/calibration/set_fixed_bias", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	resp = pipeline.Response{}
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Success, test.ShouldBeTrue)
	test.That(t, resp.Bias.Force.X, test.ShouldEqual, 1.)

	rec = doRequest(t, s, http.MethodPost, "/api/calibration/set_tool_data", `{"weight": 3, "lever_arm": 0.1}`)
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, svc.State().Payload.Weight, test.ShouldEqual, 3.)

	for _, tc := range []struct {
		path, body string
		code       int
	}{
		{"/api/calibration/set_tool_data", `{"weight": -3}`, http.StatusBadRequest},
		{"/api/calibration/set_tool_data", `{"mass": 3}`, http.StatusBadRequest},
		{"/api/calibration/set_tool_data", `[`, http.StatusBadRequest},
		{"/api/calibration/find_tool_params", `{}`, http.StatusConflict},
		{"/api/calibration/get_weight", ``, http.StatusConflict},
		{"/api/calibration/self_destruct", ``, http.StatusNotFound},
	} {
		rec := doRequest(t, s, http.MethodPost, tc.path, tc.body)
		test.That(t, rec.Code, test.ShouldEqual, tc.code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/calibration/set_tool_data", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestCalibrationDebugRequest(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	s, _, _, _ := newLoggedTestServer(t, logger)

	rec := doRequest(t, s, http.MethodPost, "/api/calibration/get_status?debug=req-1", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	rec = doRequest(t, s, http.MethodPost, "/api/calibration/get_status", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)

	queries := logs.FilterMessage("calibration query").All()
	test.That(t, queries, test.ShouldHaveLength, 2)
	test.That(t, queries[0].ContextMap()["debug_request"], test.ShouldEqual, "req-1")
	_, tagged := queries[1].ContextMap()["debug_request"]
	test.That(t, tagged, test.ShouldBeFalse)
}

func TestHistoryEndpoint(t *testing.T) {
	s, svc, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/history", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, strings.TrimSpace(rec.Body.String()), test.ShouldEqual, "[]")

	svc.history = []storage.OperationRecord{{ID: "a", Op: "cancel"}, {ID: "b", Op: "set_max"}}
	rec = doRequest(t, s, http.MethodGet, "/api/history?limit=1", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	var records []storage.OperationRecord
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &records), test.ShouldBeNil)
	test.That(t, records, test.ShouldHaveLength, 1)
	test.That(t, records[0].ID, test.ShouldEqual, "a")

	rec = doRequest(t, s, http.MethodGet, "/api/history?limit=lots", "")
	test.That(t, rec.Code, test.ShouldEqual, http.StatusBadRequest)
}

func TestStream(t *testing.T) {
	s, _, hub, _ := newTestServer(t)
	httpServer := httptest.NewServer(s)
	defer httpServer.Close()

	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/api/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
		//nolint:errcheck
		conn.Close()
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, hub.Len(), test.ShouldEqual, 1)
	})

	hub.Cancel(context.Background(), pipeline.CancelEvent{Reason: "torque magnitude 5 exceeds 4"})
	hub.PublishOutputs(context.Background(), pipeline.Outputs{RawSensor: wrench.Wrench{Frame: "ft"}})

	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	var msg StreamMessage
	test.That(t, conn.ReadJSON(&msg), test.ShouldBeNil)
	test.That(t, msg.Type, test.ShouldEqual, "cancel")
	test.That(t, msg.Cancel.Reason, test.ShouldEqual, "torque magnitude 5 exceeds 4")

	msg = StreamMessage{}
	test.That(t, conn.ReadJSON(&msg), test.ShouldBeNil)
	test.That(t, msg.Type, test.ShouldEqual, "outputs")
	test.That(t, msg.Outputs.RawSensor.Frame, test.ShouldEqual, "ft")

	hub.Close()
	test.That(t, hub.Len(), test.ShouldEqual, 0)
}

func TestStatusFor(t *testing.T) {
	err := referenceframe.NewTransformUnavailableError("ft", "world", time.Time{}, context.Canceled)
	test.That(t, statusFor(err), test.ShouldEqual, http.StatusServiceUnavailable)
	test.That(t, statusFor(context.Canceled), test.ShouldEqual, http.StatusInternalServerError)
}
