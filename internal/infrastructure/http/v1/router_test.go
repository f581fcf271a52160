package v1

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds/internal/core/apperror"
	corecertnum "odds/internal/core/certnum"
	appctx "odds/internal/core/context"
	"odds/internal/domain/auth"
	"odds/internal/domain/certificate"
	"odds/internal/infrastructure/certnum"
	"odds/internal/infrastructure/http/v1/dto"
	"odds/internal/infrastructure/http/v1/handlers"
	"odds/internal/infrastructure/http/v1/middleware"
	"odds/internal/infrastructure/storage/memory"
	"odds/pkg/logger"
)

type testAPI struct {
	router *gin.Engine
	store  *memory.Store
	jwt    *auth.JWTService
	class  int64
	other  int64 // student of school 2
	first  int64 // first student of class, school 1
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.NewStore()
	allocator := certnum.New(store, store, corecertnum.Options{
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		IsRetryable: memory.IsRetryable,
	})
	svc := certificate.NewService(store, allocator, certificate.DefaultConfig())
	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig("test-secret"))

	api := &testAPI{store: store, jwt: jwtSvc}
	api.class = store.AddClass(certificate.Class{SchoolID: 1, CourseName: "Teen Driving"})
	api.first = store.AddStudent(certificate.Student{SchoolID: 1, ClassID: &api.class, FirstName: "Ana", LastName: "Ruiz", IsPaid: true})
	store.AddStudent(certificate.Student{SchoolID: 1, ClassID: &api.class, FirstName: "Ben", LastName: "Cole"})
	api.other = store.AddStudent(certificate.Student{SchoolID: 2, FirstName: "Cy", LastName: "Dunn"})

	api.router = NewRouter(RouterConfig{
		Logger:           logger.Nop(),
		JWTValidator:     jwtSvc,
		Certificates:     svc,
		Counter:          allocator,
		IdempotencyStore: memory.NewIdempotencyStore(time.Hour),
	})
	return api
}

func (a *testAPI) token(t *testing.T, user *appctx.UserContext) string {
	t.Helper()
	token, _, err := a.jwt.GenerateAccessToken(user)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(method, path, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func studentPath(id int64) string {
	return "/api/v1/students/" + itoa(id) + "/process-certificate"
}

func classPath(id int64, action string) string {
	return "/api/v1/classes/" + itoa(id) + "/" + action
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/health/info", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "odds", body["app"])
	assert.Equal(t, "memory", body["storage"])
	assert.EqualValues(t, 0, body["last_certificate_number"])
}

func TestProcessStudent(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodPost, studentPath(api.first), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "0000000001", body["certificateNumber"])
	assert.Equal(t, false, body["alreadyProcessed"])
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	// Second call returns the stored number and consumes nothing.
	w = api.do(http.MethodPost, studentPath(api.first), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "0000000001", body["certificateNumber"])
	assert.Equal(t, true, body["alreadyProcessed"])

	w = api.do(http.MethodGet, "/health/info", "", nil)
	assert.EqualValues(t, 1, decode(t, w)["last_certificate_number"])
}

func TestProcessStudent_IdempotentReplay(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))
	key := map[string]string{middleware.HeaderIdempotencyKey: "k-1"}

	first := api.do(http.MethodPost, studentPath(api.first), token, key)
	require.Equal(t, http.StatusOK, first.Code)

	replayed := api.do(http.MethodPost, studentPath(api.first), token, key)
	require.Equal(t, http.StatusOK, replayed.Code)
	assert.Equal(t, "true", replayed.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), replayed.Body.String())

	// Same key on another student is a different request.
	other := api.do(http.MethodPost, classPath(api.class, "process-all"), token, key)
	assert.Equal(t, http.StatusConflict, other.Code)
}

func TestProcessStudent_AuthErrors(t *testing.T) {
	api := newTestAPI(t)

	t.Run("no token", func(t *testing.T) {
		w := api.do(http.MethodPost, studentPath(api.first), "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, apperror.CodeUnauthorized, decode(t, w)["code"])
	})

	t.Run("bad token", func(t *testing.T) {
		w := api.do(http.MethodPost, studentPath(api.first), "nope", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing permission", func(t *testing.T) {
		reader := auth.DevUser(1)
		reader.Permissions = []string{auth.PermCertificatesRead}
		w := api.do(http.MethodPost, studentPath(api.first), api.token(t, reader), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("other school", func(t *testing.T) {
		w := api.do(http.MethodPost, studentPath(api.other), api.token(t, auth.DevUser(1)), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("global admin sees every school", func(t *testing.T) {
		w := api.do(http.MethodPost, studentPath(api.other), api.token(t, auth.DevUser(0)), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestProcessStudent_InvalidID(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(http.MethodPost, "/api/v1/students/abc/process-certificate", api.token(t, auth.DevUser(1)), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperror.CodeInvalidInput, decode(t, w)["code"])
}

func TestProcessStudent_ContentionReleasesKey(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))
	key := map[string]string{middleware.HeaderIdempotencyKey: "k-busy"}

	api.store.OnReserve(func(string, int64) error { return memory.ErrConflict })
	w := api.do(http.MethodPost, studentPath(api.first), token, key)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, apperror.CodeAllocationFailed, body["code"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 2, details["attempts"])
	assert.NotContains(t, w.Body.String(), "serialization")

	// The key was released, so the client's retry runs for real.
	api.store.OnReserve(nil)
	w = api.do(http.MethodPost, studentPath(api.first), token, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, "0000000001", decode(t, w)["certificateNumber"])
}

func TestProcessClass(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodPost, studentPath(api.first), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, classPath(api.class, "process-all"), token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["processedCount"])
	processed := body["processed"].([]any)
	require.Len(t, processed, 1)
	assert.Equal(t, "0000000002", processed[0].(map[string]any)["certificateNumber"])
	assert.Empty(t, body["failed"])

	// Nothing left to process.
	w = api.do(http.MethodPost, classPath(api.class, "process-all"), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["processedCount"])
}

func TestProcessClass_PartialFailure(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	api.store.OnStamp(func(id int64, _ corecertnum.Number) error {
		if id == api.first {
			return certificate.ErrAlreadyProcessed
		}
		return nil
	})

	w := api.do(http.MethodPost, classPath(api.class, "process-all"), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["processedCount"])
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.EqualValues(t, api.first, failed[0].(map[string]any)["studentId"])
	assert.Equal(t, "already processed", failed[0].(map[string]any)["reason"])
	// The failed student consumed no number.
	assert.Equal(t, "0000000001", body["processed"].([]any)[0].(map[string]any)["certificateNumber"])
}

func TestClassSummary(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodGet, classPath(api.class, "certificate-summary"), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 2, body["studentCount"])
	assert.EqualValues(t, 1, body["paidCount"])
	assert.EqualValues(t, 2, body["unprocessedCount"])
	assert.Equal(t, "10", body["expectedAmount"])
	assert.Equal(t, "Teen Driving", body["courseName"])

	w = api.do(http.MethodGet, classPath(99, "certificate-summary"), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetByNumber(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodPost, studentPath(api.first), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodGet, "/api/v1/certificates/1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, api.first, body["studentId"])
	assert.Equal(t, "0000000001", body["certificateNumber"])

	w = api.do(http.MethodGet, "/api/v1/certificates/12ab", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/certificates/0000000002", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Other schools cannot look the number up.
	w = api.do(http.MethodGet, "/api/v1/certificates/0000000001", api.token(t, auth.DevUser(2)), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListIssued(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodPost, classPath(api.class, "process-all"), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodPost, studentPath(api.other), api.token(t, auth.DevUser(2)), nil)
	require.Equal(t, http.StatusOK, w.Code)

	today := time.Now().UTC().Format(handlers.DateLayout)
	w = api.do(http.MethodGet, "/api/v1/certificates?startDate="+today+"&endDate="+today, token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var export dto.CertificateExportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &export))
	require.Equal(t, 2, export.Count, "school 2's certificate is not exported to school 1")
	assert.Equal(t, "0000000001", export.Certificates[0].CertificateNumber)
	assert.Equal(t, api.first, export.Certificates[0].StudentID)
	assert.Equal(t, "0000000002", export.Certificates[1].CertificateNumber)
	require.NotNil(t, export.Certificates[0].CourseName)
	assert.Equal(t, "Teen Driving", *export.Certificates[0].CourseName)

	tomorrow := time.Now().UTC().AddDate(0, 0, 1).Format(handlers.DateLayout)
	w = api.do(http.MethodGet, "/api/v1/certificates?startDate="+tomorrow, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestListIssued_BadDates(t *testing.T) {
	api := newTestAPI(t)
	token := api.token(t, auth.DevUser(1))

	w := api.do(http.MethodGet, "/api/v1/certificates?startDate=03/01/2024", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/certificates?startDate=2024-03-02&endDate=2024-03-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/api/v1/certificates?startDate=2024-03-01&endDate=2024-03-01", token, nil)
	require.Equal(t, http.StatusOK, w.Code, "a single day is a valid window")
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestCORSPreflight(t *testing.T) {
	store := memory.NewStore()
	router := NewRouter(RouterConfig{
		Logger:       logger.Nop(),
		JWTValidator: auth.NewJWTService(auth.DefaultJWTConfig("x")),
		Certificates: certificate.NewService(store, &corecertnum.MockAllocator{}, certificate.DefaultConfig()),
		FrontendURL:  "http://admin.test",
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/classes/1/process-all", nil)
	req.Header.Set("Origin", "http://admin.test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://admin.test", w.Header().Get("Access-Control-Allow-Origin"))
}
