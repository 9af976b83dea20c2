package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusworks/comp-eval/internal/auth"
	"github.com/campusworks/comp-eval/internal/bonus"
	"github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/export"
	"github.com/campusworks/comp-eval/internal/query"
	"github.com/campusworks/comp-eval/internal/ranking"
	"github.com/campusworks/comp-eval/internal/store"
	"github.com/campusworks/comp-eval/internal/types"
)

// setupRouter builds a test router with the same route configuration as main,
// minus rate limiting and CORS
func setupRouter(t *testing.T) (*gin.Engine, *auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dataDir := t.TempDir()

	db, err := store.NewDB(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := store.NewRepository(db)
	ledger := bonus.NewLedger(db)

	weightStore := evaluation.NewWeightStore(dataDir)
	weights, err := weightStore.Load("default")
	require.NoError(t, err)
	aggregator, err := evaluation.NewAggregator(weights)
	require.NoError(t, err)

	rankingCache := query.NewRankingCache(time.Minute)
	queryService := query.NewService(repo, ledger, rankingCache)
	rankingService := ranking.NewService(repo, ledger, aggregator, 30*time.Second, rankingCache)
	exporter := export.NewExporter(repo)
	tokenService := auth.NewTokenService("test-secret", time.Hour)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(tokenService.Middleware())

	staff := api.Group("")
	staff.Use(auth.RequireStaff())

	staff.POST("/students/add", func(c *gin.Context) {
		var req types.StudentRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid student payload", err.Error()))
			return
		}
		student := store.Student{
			StudentID: req.StudentID,
			Name:      req.Name,
			ClassID:   req.ClassID,
			GradeYear: req.GradeYear,
			UpdatedAt: time.Now(),
		}
		if err := repo.UpsertStudent(c.Request.Context(), student); err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "student saved", "student_id": req.StudentID})
	})

	staff.POST("/evaluation/add", func(c *gin.Context) {
		var req types.EvaluationRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid evaluation payload", err.Error()))
			return
		}
		term := evaluation.Term{AcademicYear: req.AcademicYear, Semester: req.Semester}
		scores := evaluation.ComponentScoreSet{
			Academic:       req.AcademicScore,
			Innovation:     req.InnovationScore,
			Social:         req.SocialScore,
			CulturalSports: req.CulturalSportsScore,
		}
		rec, err := rankingService.AggregateStudent(c.Request.Context(), req.StudentID, term, scores, req.GPA)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"message":     "evaluation aggregated",
			"student_id":  rec.StudentID,
			"total_score": rec.TotalScore,
			"version":     rec.Version,
		})
	})

	staff.POST("/bonus/add", func(c *gin.Context) {
		var req types.BonusRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid bonus payload", err.Error()))
			return
		}
		term := evaluation.Term{AcademicYear: req.AcademicYear, Semester: req.Semester}
		entry := bonus.Entry{
			Category:    req.Category,
			ItemName:    req.ItemName,
			Score:       req.Score,
			Description: req.Description,
		}
		saved, err := ledger.Record(c.Request.Context(), req.StudentID, term, entry)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		if rec, err := repo.GetRecord(c.Request.Context(), req.StudentID, term); err == nil && rec != nil {
			scores := evaluation.ComponentScoreSet{
				Academic:       &rec.Scores.Academic,
				Innovation:     &rec.Scores.Innovation,
				Social:         &rec.Scores.Social,
				CulturalSports: &rec.Scores.CulturalSports,
			}
			_, _ = rankingService.AggregateStudent(c.Request.Context(), req.StudentID, term, scores, rec.GPA)
		}
		c.JSON(http.StatusOK, gin.H{"message": "bonus entry recorded", "entry_id": saved.ID})
	})

	staff.POST("/ranking/calculate", func(c *gin.Context) {
		var req types.RankingRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid ranking payload", err.Error()))
			return
		}
		term := evaluation.Term{AcademicYear: req.AcademicYear, Semester: req.Semester}
		if err := rankingService.RecomputeTerm(c.Request.Context(), term); err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "rankings calculated", "term": term.Key()})
	})

	staff.GET("/export/comprehensive", func(c *gin.Context) {
		term, ok := termFromQuery(c)
		if !ok {
			return
		}
		var classID *int64
		if raw := c.Query("class_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				respondError(c, errors.NewValidationError("class_id must be a positive integer"))
				return
			}
			classID = &id
		}
		c.Header("Content-Disposition", `attachment; filename="`+export.Filename(term)+`"`)
		c.Header("Content-Type", "text/csv")
		if err := exporter.WriteTerm(c.Request.Context(), c.Writer, term, classID); err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
	})

	api.GET("/ranking/list", func(c *gin.Context) {
		term, ok := termFromQuery(c)
		if !ok {
			return
		}
		scope := evaluation.ScopeClass
		if raw := c.Query("scope"); raw != "" {
			scope = evaluation.RankScope(raw)
			if !scope.Valid() {
				respondError(c, errors.NewValidationError("scope must be class or grade"))
				return
			}
		}
		caller, ok := auth.CallerFrom(c)
		if !ok {
			respondError(c, errors.NewForbiddenError("missing caller identity"))
			return
		}
		limit := 50
		if limitStr := c.Query("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
				limit = l
			}
		}
		if caller.Role == auth.RoleStudent && limit > studentRankingLimit {
			limit = studentRankingLimit
		}
		response, err := queryService.ListRanking(c.Request.Context(), term, scope, limit)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, response)
	})

	api.GET("/student/:id", func(c *gin.Context) {
		studentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			respondError(c, errors.NewValidationError("student id must be an integer"))
			return
		}
		term, ok := termFromQuery(c)
		if !ok {
			return
		}
		caller, ok := auth.CallerFrom(c)
		if !ok {
			respondError(c, errors.NewForbiddenError("missing caller identity"))
			return
		}
		detail, err := queryService.GetStudentDetail(c.Request.Context(), studentID, term, caller)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	return r, tokenService
}

func issueToken(t *testing.T, svc *auth.TokenService, caller auth.Caller) string {
	t.Helper()
	token, err := svc.Issue(caller)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAPIRequiresAuthentication(t *testing.T) {
	r, _ := setupRouter(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/students/add"},
		{http.MethodPost, "/api/evaluation/add"},
		{http.MethodPost, "/api/bonus/add"},
		{http.MethodPost, "/api/ranking/calculate"},
		{http.MethodGet, "/api/ranking/list?academic_year=2025-2026&semester=1"},
		{http.MethodGet, "/api/student/1001?academic_year=2025-2026&semester=1"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := doJSON(t, r, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusForbidden, w.Code)
		})
	}
}

func TestStaffRoutesRejectStudents(t *testing.T) {
	r, tokenService := setupRouter(t)
	studentToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleStudent, StudentID: 1001})

	w := doJSON(t, r, http.MethodPost, "/api/students/add", studentToken, map[string]interface{}{
		"student_id": 1001, "name": "Ada", "class_id": 1, "grade_year": "2024",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestEvaluationLifecycle(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	// Register two students
	for i, name := range []string{"Ada", "Ben"} {
		w := doJSON(t, r, http.MethodPost, "/api/students/add", staffToken, map[string]interface{}{
			"student_id": 1001 + i, "name": name, "class_id": 1, "grade_year": "2024",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	// Submit component scores
	for i, academic := range []float64{88, 95} {
		w := doJSON(t, r, http.MethodPost, "/api/evaluation/add", staffToken, map[string]interface{}{
			"student_id":            1001 + i,
			"academic_year":         "2025-2026",
			"semester":              1,
			"academic_score":        academic,
			"innovation_score":      0,
			"social_score":          0,
			"cultural_sports_score": 0,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	// Record a bonus for the trailing student
	w := doJSON(t, r, http.MethodPost, "/api/bonus/add", staffToken, map[string]interface{}{
		"student_id":    1001,
		"academic_year": "2025-2026",
		"semester":      1,
		"category":      "innovation",
		"item_name":     "patent",
		"score":         10,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Before any ranking pass the list is empty
	w = doJSON(t, r, http.MethodGet, "/api/ranking/list?academic_year=2025-2026&semester=1", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp query.RankingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Rankings)

	// Run the ranking pass
	w = doJSON(t, r, http.MethodPost, "/api/ranking/calculate", staffToken, map[string]interface{}{
		"academic_year": "2025-2026", "semester": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The bonus lifts 1001 (88+10=98) over 1002 (95)
	w = doJSON(t, r, http.MethodGet, "/api/ranking/list?academic_year=2025-2026&semester=1", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Rankings, 2)
	assert.Equal(t, int64(1001), listResp.Rankings[0].StudentID)
	assert.Equal(t, 1, listResp.Rankings[0].Rank)
	assert.InDelta(t, 98.0, listResp.Rankings[0].TotalScore, 1e-9)
	assert.Equal(t, int64(1002), listResp.Rankings[1].StudentID)
	assert.Equal(t, 2, listResp.Rankings[1].Rank)
}

func TestStudentDetailVisibilityOverHTTP(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	w := doJSON(t, r, http.MethodPost, "/api/students/add", staffToken, map[string]interface{}{
		"student_id": 1001, "name": "Ada", "class_id": 1, "grade_year": "2024",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/evaluation/add", staffToken, map[string]interface{}{
		"student_id":            1001,
		"academic_year":         "2025-2026",
		"semester":              1,
		"academic_score":        88,
		"innovation_score":      0,
		"social_score":          0,
		"cultural_sports_score": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	detailPath := "/api/student/1001?academic_year=2025-2026&semester=1"

	ownToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleStudent, StudentID: 1001})
	w = doJSON(t, r, http.MethodGet, detailPath, ownToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	peerToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleStudent, StudentID: 1002})
	w = doJSON(t, r, http.MethodGet, detailPath, peerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Probing a nonexistent student is still Forbidden for the wrong caller
	w = doJSON(t, r, http.MethodGet, "/api/student/9999?academic_year=2025-2026&semester=1", peerToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Staff asking for an absent record gets NotFound
	w = doJSON(t, r, http.MethodGet, "/api/student/9999?academic_year=2025-2026&semester=1", staffToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvaluationAddValidation(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "unknown student",
			body: map[string]interface{}{
				"student_id": 9999, "academic_year": "2025-2026", "semester": 1,
				"academic_score": 88, "innovation_score": 0, "social_score": 0, "cultural_sports_score": 0,
			},
		},
		{
			name: "missing required fields",
			body: map[string]interface{}{"student_id": 1001},
		},
		{
			name: "semester out of range",
			body: map[string]interface{}{
				"student_id": 1001, "academic_year": "2025-2026", "semester": 3,
				"academic_score": 88, "innovation_score": 0, "social_score": 0, "cultural_sports_score": 0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/evaluation/add", staffToken, tt.body)
			assert.GreaterOrEqual(t, w.Code, http.StatusBadRequest)
		})
	}
}

func TestRankingListStudentLimitCap(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	// Twelve ranked students, more than a student caller may see
	for i := 0; i < 12; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/students/add", staffToken, map[string]interface{}{
			"student_id": 1001 + i, "name": fmt.Sprintf("Student %d", i), "class_id": 1, "grade_year": "2024",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = doJSON(t, r, http.MethodPost, "/api/evaluation/add", staffToken, map[string]interface{}{
			"student_id":            1001 + i,
			"academic_year":         "2025-2026",
			"semester":              1,
			"academic_score":        float64(95 - i),
			"innovation_score":      0,
			"social_score":          0,
			"cultural_sports_score": 0,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := doJSON(t, r, http.MethodPost, "/api/ranking/calculate", staffToken, map[string]interface{}{
		"academic_year": "2025-2026", "semester": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	listPath := "/api/ranking/list?academic_year=2025-2026&semester=1&limit=50"

	// A staff caller gets the full list
	w = doJSON(t, r, http.MethodGet, listPath, staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp query.RankingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Rankings, 12)

	// A student caller is capped at the top ten regardless of the limit asked
	studentToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleStudent, StudentID: 1001})
	w = doJSON(t, r, http.MethodGet, listPath, studentToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Rankings, studentRankingLimit)
	assert.Equal(t, 1, listResp.Rankings[0].Rank)
	assert.Equal(t, studentRankingLimit, listResp.Rankings[studentRankingLimit-1].Rank)
}

func TestRankingListRequiresTermParams(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	w := doJSON(t, r, http.MethodGet, "/api/ranking/list", staffToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/ranking/list?academic_year=2025-2026&semester=9", staffToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportComprehensive(t *testing.T) {
	r, tokenService := setupRouter(t)
	staffToken := issueToken(t, tokenService, auth.Caller{Role: auth.RoleTeacher})

	w := doJSON(t, r, http.MethodPost, "/api/students/add", staffToken, map[string]interface{}{
		"student_id": 1001, "name": "Ada", "class_id": 1, "grade_year": "2024",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/evaluation/add", staffToken, map[string]interface{}{
		"student_id":            1001,
		"academic_year":         "2025-2026",
		"semester":              1,
		"academic_score":        88,
		"innovation_score":      0,
		"social_score":          0,
		"cultural_sports_score": 0,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/ranking/calculate", staffToken, map[string]interface{}{
		"academic_year": "2025-2026", "semester": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/export/comprehensive?academic_year=2025-2026&semester=1", staffToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "comprehensive_evaluation_2025-2026_S1.csv")
	assert.Contains(t, w.Body.String(), "grade_rank")
	assert.Contains(t, w.Body.String(), fmt.Sprintf("%d", 1001))
}
