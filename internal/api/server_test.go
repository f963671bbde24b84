package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tradepolicy/internal/engine"
	"github.com/samcharles93/tradepolicy/internal/inference"
	"github.com/samcharles93/tradepolicy/internal/onnx"
	"github.com/samcharles93/tradepolicy/internal/toy"
)

var testContract = inference.Contract{ObservationLen: 8, StateShape: []int{1, 1, 2}, EpisodeStarts: true}

func mirrorModel() []byte {
	return onnx.Encode(toy.Mirror(toy.Config{ObservationLen: 8, Hidden: 2, EpisodeStarts: true}))
}

func newTestEcho(opts Options) *echo.Echo {
	eng := engine.New(engine.Config{Contract: testContract})
	e := echo.New()
	NewServer(eng, opts).Register(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, e, method, path, []byte(body), map[string]string{echo.HeaderContentType: echo.MIMEApplicationJSON})
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error ResponseError `json:"error"`
}

func upload(t *testing.T, e *echo.Echo, model []byte, header map[string]string) {
	t.Helper()
	half := len(model) / 2
	for i, chunk := range [][]byte{model[:half], model[half:]} {
		h := map[string]string{echo.HeaderContentType: echo.MIMEOctetStream, "X-Chunk-Index": strconv.Itoa(i)}
		for k, v := range header {
			h[k] = v
		}
		rec := do(t, e, http.MethodPost, "/v1/model/bytes", chunk, h)
		if rec.Code != http.StatusOK {
			t.Fatalf("append chunk %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	if rec := do(t, e, http.MethodPost, "/v1/model/setup", nil, header); rec.Code != http.StatusOK {
		t.Fatalf("setup: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(Options{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeBody[StatusResponse](t, rec).Status; got != "ok" {
		t.Fatalf("status = %q", got)
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("missing request id")
	}
}

func TestUploadSetupAndAct(t *testing.T) {
	t.Parallel()
	e := newTestEcho(Options{})
	model := mirrorModel()
	upload(t, e, model, nil)

	info := decodeBody[ModelResponse](t, doJSON(t, e, http.MethodGet, "/v1/model", ""))
	if !info.Initialized || info.LedgerBytes != len(model) {
		t.Fatalf("model = %+v", info)
	}
	if len(info.Inputs) != 6 || info.CompiledAt == nil {
		t.Fatalf("model = %+v", info)
	}

	rec := doJSON(t, e, http.MethodPost, "/v1/actions", `{"observation":[0.1,0.2,0.9,0,0,0,0,0]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("act: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		ID          string    `json:"id"`
		Action      string    `json:"action"`
		ActionIndex int       `json:"action_index"`
		Logits      []float32 `json:"logits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != "sell" || got.ActionIndex != 2 {
		t.Fatalf("decision = %+v", got)
	}
	if !strings.HasPrefix(got.ID, "act_") {
		t.Fatalf("id = %q", got.ID)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/state/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodDelete, "/v1/model/bytes", "")
	if got := decodeBody[LedgerResponse](t, rec).LedgerBytes; got != 0 {
		t.Fatalf("ledger bytes after clear = %d", got)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		prepare  func(t *testing.T, e *echo.Echo)
		method   string
		path     string
		body     string
		wantCode int
		wantType string
		wantMsg  string
	}{
		{
			name:     "act before setup",
			method:   http.MethodPost,
			path:     "/v1/actions",
			body:     `{"observation":[0,0,0,0,0,0,0,0]}`,
			wantCode: http.StatusConflict,
			wantType: "model_not_initialized",
			wantMsg:  "get action: model not initialized",
		},
		{
			name:     "bad json",
			method:   http.MethodPost,
			path:     "/v1/actions",
			body:     `{"observation":`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
		},
		{
			name:     "missing observation",
			method:   http.MethodPost,
			path:     "/v1/actions",
			body:     `{}`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
			wantMsg:  "observation is required",
		},
		{
			name:     "wrong observation length",
			prepare:  func(t *testing.T, e *echo.Echo) { upload(t, e, mirrorModel(), nil) },
			method:   http.MethodPost,
			path:     "/v1/actions",
			body:     `{"observation":[1,2,3,4,5]}`,
			wantCode: http.StatusBadRequest,
			wantType: "invalid_request_error",
			wantMsg:  "get action: Expected 8 input values, got 5",
		},
		{
			name:     "compile garbage",
			method:   http.MethodPost,
			path:     "/v1/model/setup",
			wantCode: http.StatusUnprocessableEntity,
			wantType: "compilation_error",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEcho(Options{})
			if tc.prepare != nil {
				tc.prepare(t, e)
			}
			rec := doJSON(t, e, tc.method, tc.path, tc.body)
			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.wantCode, rec.Body.String())
			}
			body := decodeBody[errorBody](t, rec)
			if body.Error.Type != tc.wantType {
				t.Fatalf("type = %q, want %q", body.Error.Type, tc.wantType)
			}
			if tc.wantMsg != "" && body.Error.Message != tc.wantMsg {
				t.Fatalf("message = %q, want %q", body.Error.Message, tc.wantMsg)
			}
		})
	}
}

func TestChunkTooLarge(t *testing.T) {
	t.Parallel()
	e := newTestEcho(Options{MaxChunkBytes: 4})
	rec := do(t, e, http.MethodPost, "/v1/model/bytes", []byte("12345"), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
	info := decodeBody[ModelResponse](t, doJSON(t, e, http.MethodGet, "/v1/model", ""))
	if info.LedgerBytes != 0 {
		t.Fatalf("ledger bytes = %d", info.LedgerBytes)
	}
}

func TestAdminToken(t *testing.T) {
	t.Parallel()
	hash, err := HashToken("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	e := newTestEcho(Options{AdminTokenHash: hash})

	if rec := do(t, e, http.MethodPost, "/v1/model/bytes", []byte("x"), nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	wrong := map[string]string{"Authorization": "Bearer nope"}
	if rec := do(t, e, http.MethodPost, "/v1/model/bytes", []byte("x"), wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}

	upload(t, e, mirrorModel(), map[string]string{"Authorization": "Bearer s3cret"})
	// deciding stays open
	rec := doJSON(t, e, http.MethodPost, "/v1/actions", `{"observation":[0,1,0,0,0,0,0,0]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("act: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	e := newTestEcho(Options{RateLimit: 0.001, Burst: 2})
	for i := range 2 {
		if rec := doJSON(t, e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}
