package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/prescription-api/internal/handler/health"
	lookupHandler "github.com/jwalitptl/prescription-api/internal/handler/lookup"
	prescriptionHandler "github.com/jwalitptl/prescription-api/internal/handler/prescription"
	promHandler "github.com/jwalitptl/prescription-api/internal/handler/prometheus"
	"github.com/jwalitptl/prescription-api/internal/middleware"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/internal/service/lookup"
	"github.com/jwalitptl/prescription-api/internal/service/prescription"
	"github.com/jwalitptl/prescription-api/internal/storage"
	"github.com/jwalitptl/prescription-api/internal/testutil"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

// TestResponse is the decoded response envelope
type TestResponse struct {
	Code    int
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Data    json.RawMessage `json:"data"`
	Header  http.Header
	Body    []byte
}

func (r TestResponse) IsSuccess() bool {
	return r.Status == "success"
}

// object decodes Data as a JSON object. Error payloads may carry a list
// instead, which decodes as empty.
func (r TestResponse) object() map[string]interface{} {
	var m map[string]interface{}
	_ = json.Unmarshal(r.Data, &m)
	return m
}

func (r TestResponse) GetString(key string) string {
	if v, ok := r.object()[key].(string); ok {
		return v
	}
	return ""
}

func (r TestResponse) GetNumber(key string) float64 {
	if v, ok := r.object()[key].(float64); ok {
		return v
	}
	return 0
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewSeededDB(t, time.Now())
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "test")

	lookupSvc := lookup.NewService(sqlstore.NewUserRepository(db), sqlstore.NewQueueRepository(db))
	store := storage.NewStore(afero.NewMemMapFs(), "out", time.Second)
	prescriptionSvc := prescription.NewService(
		lookupSvc,
		sqlstore.NewPrescriptionRepository(db),
		store,
		m,
		zerolog.Nop(),
		prescription.Config{Timeout: time.Second},
	)

	r := NewRouter(
		zerolog.Nop(),
		m,
		prescriptionHandler.NewHandler(prescriptionSvc),
		lookupHandler.NewHandler(lookupSvc),
		health.NewHandler(
			health.Check{Name: "database", Pinger: db},
			health.Check{Name: "storage", Pinger: store},
		),
		promHandler.New(reg).Handler(),
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig()},
	)
	r.Setup()

	srv := httptest.NewServer(r.Engine())
	t.Cleanup(srv.Close)
	return srv
}

func makeRequest(t *testing.T, srv *httptest.Server, method, path string, body interface{}) TestResponse {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			encoded, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(encoded)
		}
		reqBody = bytes.NewBufferString(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	result := TestResponse{Code: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.Header.Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(data, &result), string(data))
	}
	return result
}

func samplePrescription() map[string]interface{} {
	return map[string]interface{}{
		"doctor_id":    "1",
		"queue_number": "A001",
		"medications": []map[string]string{
			{"drug_name": "Amoxicillin", "dosage_form": "tablet", "container": "strip", "quantity": "10", "frequency": "3x1", "dose": "500mg", "note": "after meals"},
			{"drug_name": ""},
		},
	}
}

func TestPrescriptionFlow(t *testing.T) {
	srv := newTestServer(t)

	// Doctor and ticket holder as shown on the form
	doctorResp := makeRequest(t, srv, "GET", "/api/v1/doctors/1", nil)
	require.True(t, doctorResp.IsSuccess(), doctorResp.Message)
	assert.Equal(t, "Dr. Andi", doctorResp.GetString("name"))
	assert.Equal(t, "doctor", doctorResp.GetString("role"))
	assert.NotContains(t, string(doctorResp.Body), "password")

	patientResp := makeRequest(t, srv, "GET", "/api/v1/queue-tickets/A001/patient", nil)
	require.True(t, patientResp.IsSuccess())
	assert.Equal(t, "Budi Santoso", patientResp.GetString("name"))

	// Generate
	createResp := makeRequest(t, srv, "POST", "/api/v1/prescriptions", samplePrescription())
	require.Equal(t, http.StatusCreated, createResp.Code, createResp.Message)
	assert.True(t, createResp.IsSuccess())
	assert.Regexp(t, `^prescription_A001_\d{14}\.pdf$`, createResp.GetString("document_filename"))
	assert.Equal(t, "Pending", createResp.GetString("status"))
	assert.Equal(t, float64(1), createResp.GetNumber("medication_count"))

	id := int(createResp.GetNumber("id"))
	require.NotZero(t, id)
	assert.Equal(t, fmt.Sprintf("/api/v1/prescriptions/%d/download", id), createResp.GetString("download_url"))

	// Metadata
	getResp := makeRequest(t, srv, "GET", fmt.Sprintf("/api/v1/prescriptions/%d", id), nil)
	require.True(t, getResp.IsSuccess())
	assert.Equal(t, createResp.GetString("document_filename"), getResp.GetString("document_filename"))

	// Download
	downloadResp := makeRequest(t, srv, "GET", createResp.GetString("download_url"), nil)
	require.Equal(t, http.StatusOK, downloadResp.Code)
	assert.Equal(t, "application/pdf", downloadResp.Header.Get("Content-Type"))
	assert.Contains(t, downloadResp.Header.Get("Content-Disposition"), createResp.GetString("document_filename"))
	assert.True(t, bytes.HasPrefix(downloadResp.Body, []byte("%PDF")))
}

func TestPrescriptionErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name    string
		method  string
		path    string
		body    interface{}
		code    int
		message string
	}{
		{
			name:   "blank ticket",
			method: "POST",
			path:   "/api/v1/prescriptions",
			body: map[string]interface{}{
				"doctor_id":    "1",
				"queue_number": "  ",
			},
			code:    http.StatusBadRequest,
			message: "invalid ticket",
		},
		{
			name:   "unknown ticket",
			method: "POST",
			path:   "/api/v1/prescriptions",
			body: map[string]interface{}{
				"doctor_id":    "1",
				"queue_number": "Q404",
			},
			code:    http.StatusNotFound,
			message: "patient not found for ticket",
		},
		{
			name:   "unknown doctor",
			method: "POST",
			path:   "/api/v1/prescriptions",
			body: map[string]interface{}{
				"doctor_id":    "999",
				"queue_number": "A001",
			},
			code:    http.StatusNotFound,
			message: "doctor not found",
		},
		{
			name:    "malformed body",
			method:  "POST",
			path:    "/api/v1/prescriptions",
			body:    `{"doctor_id":`,
			code:    http.StatusBadRequest,
			message: "invalid request body",
		},
		{
			name:    "non-numeric id",
			method:  "GET",
			path:    "/api/v1/prescriptions/abc",
			code:    http.StatusBadRequest,
			message: "invalid prescription ID",
		},
		{
			name:    "missing prescription",
			method:  "GET",
			path:    "/api/v1/prescriptions/999",
			code:    http.StatusNotFound,
			message: "prescription not found",
		},
		{
			name:    "missing download",
			method:  "GET",
			path:    "/api/v1/prescriptions/999/download",
			code:    http.StatusNotFound,
			message: "prescription not found",
		},
		{
			name:    "patient id as doctor",
			method:  "GET",
			path:    "/api/v1/doctors/2",
			code:    http.StatusNotFound,
			message: "doctor not found",
		},
		{
			name:    "unknown queue ticket",
			method:  "GET",
			path:    "/api/v1/queue-tickets/Z999/patient",
			code:    http.StatusNotFound,
			message: "patient not found for ticket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := makeRequest(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, "error", resp.Status)
			assert.Contains(t, resp.Message, tt.message)
		})
	}
}

func TestValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	body := map[string]interface{}{
		"doctor_id":    "1",
		"queue_number": "A001",
		"medications":  []map[string]string{{"drug_name": string(long)}},
	}

	resp := makeRequest(t, srv, "POST", "/api/v1/prescriptions", body)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation failed", resp.Message)

	var fields []middleware.ValidationError
	require.NoError(t, json.Unmarshal(resp.Data, &fields))
	require.Len(t, fields, 1)
	assert.Equal(t, "medications[0].drug_name", fields[0].Field)
	assert.Equal(t, "Value is too long", fields[0].Message)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	live := makeRequest(t, srv, "GET", "/api/v1/health/live", nil)
	assert.Equal(t, http.StatusOK, live.Code)

	ready := makeRequest(t, srv, "GET", "/api/v1/health/ready", nil)
	assert.Equal(t, http.StatusOK, ready.Code)
	assert.Equal(t, "UP", ready.Status)

	resp := makeRequest(t, srv, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, string(resp.Body), "test_http_requests_total")
	assert.Contains(t, string(resp.Body), `path="/api/v1/health/ready"`)
}

func TestRequestIDAndCORS(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/prescriptions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://clinic.local")
	req.Header.Set(middleware.HeaderXRequestID, "req-123")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "req-123", resp.Header.Get(middleware.HeaderXRequestID))
}
