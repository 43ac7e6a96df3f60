package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Skufu/deprescribe/internal/analysis"
	"github.com/Skufu/deprescribe/internal/criteria"
	"github.com/Skufu/deprescribe/internal/interaction"
	"github.com/Skufu/deprescribe/internal/risk"
	"github.com/Skufu/deprescribe/internal/taper"
)

type fakeDB struct {
	err error
}

func (f fakeDB) Ping(ctx context.Context) error {
	return f.err
}

type failingRefiner struct{}

func (failingRefiner) RefineTaperPlan(context.Context, taper.RefineRequest) (*taper.Plan, error) {
	return nil, errors.New("upstream 503")
}

func newTestRouter(t *testing.T, db HealthChecker, opts ...taper.Option) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo, err := criteria.LoadEmbedded()
	require.NoError(t, err)
	svc := analysis.NewService(repo,
		risk.NewScorer(risk.DefaultPolicy()),
		interaction.NewChecker(repo, interaction.NewProfileSynthesizer(repo)),
		taper.NewGenerator(repo, opts...),
	)
	return NewRouter(Options{Service: svc, DB: db, Logger: zerolog.Nop(), Version: "test"})
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

const frailFallerBody = `{"patient": {
	"age": 82,
	"gender": "female",
	"is_frail": true,
	"cfs_score": 6,
	"life_expectancy": "2-5_years",
	"comorbidities": ["History of falls", "Hypertension"],
	"medications": [
		{"generic_name": "Alprazolam", "dose": "0.5mg", "frequency": "twice daily", "duration": "long_term"}
	],
	"herbs": [
		{"generic_name": "Ginkgo", "dose": "120mg", "frequency": "daily", "duration": "long_term"}
	]
}}`

func TestRouterHealthz(t *testing.T) {
	router := newTestRouter(t, fakeDB{})

	for _, path := range []string{"/health", "/healthz"} {
		w := do(router, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"status":"ok"`)
		assert.Contains(t, w.Body.String(), `"stop_criteria"`)
		assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	}
}

func TestRouterReadyz(t *testing.T) {
	t.Run("db disabled", func(t *testing.T) {
		w := do(newTestRouter(t, nil), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"db":"disabled"`)
	})
	t.Run("db healthy", func(t *testing.T) {
		w := do(newTestRouter(t, fakeDB{}), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"db":"ok"`)
	})
	t.Run("db down", func(t *testing.T) {
		w := do(newTestRouter(t, fakeDB{err: errors.New("connection refused")}), http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"degraded"`)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-abc")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get(requestIDHeader))
}

func TestAnalyzePatient(t *testing.T) {
	router := newTestRouter(t, nil)
	w := do(router, http.MethodPost, "/analyze-patient", frailFallerBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res analysis.Result
	decode(t, w, &res)
	require.Len(t, res.MedicationAnalyses, 2)
	assert.Equal(t, "Alprazolam", res.MedicationAnalyses[0].Name)
	assert.Equal(t, "RED", string(res.MedicationAnalyses[0].RiskCategory))
	assert.True(t, res.MedicationAnalyses[0].TaperRequired)
	assert.Equal(t, "Ginkgo", res.MedicationAnalyses[1].Name)
	assert.GreaterOrEqual(t, res.PrioritySummary.Red, 1)
	assert.Equal(t, 82, res.PatientSummary.Age)
	assert.NotEmpty(t, res.SafetyAlerts)
}

func TestAnalyzePatientValidation(t *testing.T) {
	router := newTestRouter(t, nil)
	w := do(router, http.MethodPost, "/analyze-patient", `{"patient": {
		"gender": "female",
		"life_expectancy": "2-5_years",
		"medications": []
	}}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "validation_failed", body.Error)
	fields := map[string]bool{}
	for _, d := range body.Details {
		fields[d.Field] = true
	}
	assert.True(t, fields["patient.age"], "details: %+v", body.Details)
	assert.True(t, fields["patient.medications"], "details: %+v", body.Details)
}

func TestAnalyzePatientMissingPatient(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/analyze-patient", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"patient"`)
}

func TestAnalyzePatientMalformedJSON(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/analyze-patient", `{"patient": {"age": `)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "malformed_json")
}

func TestExportPatient(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/analyze-patient/export", frailFallerBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Medications")

	name, err := f.GetCellValue("Medications", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Alprazolam", name)
}

func TestExportPatientValidation(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/analyze-patient/export", `{"patient": {"age": 80}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTaperPlan(t *testing.T) {
	router := newTestRouter(t, nil)
	w := do(router, http.MethodPost, "/get-taper-plan", `{
		"drug_name": "Alprazolam",
		"current_dose": "1mg",
		"duration_on_medication": "3 years",
		"patient_cfs_score": 6,
		"patient_age": 84,
		"comorbidities": ["Anxiety"]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var plan taper.Plan
	decode(t, w, &plan)
	assert.Equal(t, "Alprazolam", plan.DrugName)
	assert.Equal(t, taper.ProvenanceRuleBased, plan.Provenance)
	assert.Empty(t, plan.FallbackReason)
	require.NotEmpty(t, plan.Steps)
	assert.Equal(t, "STOP", plan.Steps[len(plan.Steps)-1].Dose)
}

func TestTaperPlanFallbackReason(t *testing.T) {
	router := newTestRouter(t, nil, taper.WithRefiner(failingRefiner{}))
	w := do(router, http.MethodPost, "/get-taper-plan", `{"drug_name": "Alprazolam", "current_dose": "1mg", "patient_age": 78}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var plan taper.Plan
	decode(t, w, &plan)
	assert.Equal(t, taper.ProvenanceRuleBased, plan.Provenance)
	assert.Contains(t, plan.FallbackReason, "upstream 503")
}

func TestTaperPlanValidation(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/get-taper-plan", `{"current_dose": "1mg"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body errorBody
	decode(t, w, &body)
	assert.Equal(t, "validation_failed", body.Error)
	assert.Len(t, body.Details, 2)
}

func TestInteractionChecker(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/interaction-checker", `{
		"herbs": ["Ginkgo"],
		"medications": ["Warfarin"],
		"patient_comorbidities": ["Atrial fibrillation"]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rep analysis.InteractionReport
	decode(t, w, &rep)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 1, rep.Major)
	require.Len(t, rep.Interactions, 1)
	assert.Equal(t, "Ginkgo", rep.Interactions[0].Herb)
	assert.Equal(t, "Warfarin", rep.Interactions[0].Drug)
}

func TestInteractionCheckerValidation(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodPost, "/interaction-checker", `{"herbs": [], "medications": ["Warfarin"]}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"herbs"`)
}

func TestSupportedDrugs(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodGet, "/supported-drugs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var cat analysis.Catalog
	decode(t, w, &cat)
	assert.NotEmpty(t, cat.Drugs)
	assert.NotEmpty(t, cat.Herbs)
	assert.Contains(t, cat.Classes, "benzodiazepine")
	assert.Positive(t, cat.Stats.StopCriteria)
}

func TestUnknownRoute(t *testing.T) {
	w := do(newTestRouter(t, nil), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestBodyTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo, err := criteria.LoadEmbedded()
	require.NoError(t, err)
	svc := analysis.NewService(repo, risk.NewScorer(risk.DefaultPolicy()),
		interaction.NewChecker(repo, nil), taper.NewGenerator(repo))
	router := NewRouter(Options{Service: svc, Logger: zerolog.Nop(), MaxBodyBytes: 64})

	w := do(router, http.MethodPost, "/analyze-patient", frailFallerBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "payload_too_large")
}

// Ensure limitBodySize middleware allows small payloads and blocks large ones.
func TestLimitBodySize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limitBodySize(10))
	router.POST("/echo", func(c *gin.Context) {
		_, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too large"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	t.Run("within limit", func(t *testing.T) {
		w := do(router, http.MethodPost, "/echo", "12345")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("over limit", func(t *testing.T) {
		w := do(router, http.MethodPost, "/echo", "01234567890")
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := do(router, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}
