package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/campusworks/comp-eval/internal/auth"
	"github.com/campusworks/comp-eval/internal/bonus"
	"github.com/campusworks/comp-eval/internal/errors"
	"github.com/campusworks/comp-eval/internal/evaluation"
	"github.com/campusworks/comp-eval/internal/export"
	"github.com/campusworks/comp-eval/internal/monitoring"
	"github.com/campusworks/comp-eval/internal/query"
	"github.com/campusworks/comp-eval/internal/ranking"
	"github.com/campusworks/comp-eval/internal/ratelimit"
	"github.com/campusworks/comp-eval/internal/store"
	"github.com/campusworks/comp-eval/internal/types"
)

// studentRankingLimit caps how much of the ranking list a student-role
// caller may request; staff callers see the full list
const studentRankingLimit = 10

func main() {
	// Structured logging setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Configuration from environment with defaults
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	port := getEnvOrDefault("PORT", "8080")
	jwtSecret := getEnvOrDefault("JWT_SECRET", "your-super-secret-jwt-key-change-in-production")
	weightPolicy := getEnvOrDefault("WEIGHT_POLICY", "default")
	redisAddr := os.Getenv("REDIS_ADDR")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	recomputeTimeout := getEnvDuration("RANKING_TIMEOUT", 30*time.Second)
	cacheTTL := getEnvDuration("QUERY_CACHE_TTL", 5*time.Minute)

	// Initialize database and repository
	db, err := store.NewDB(dataDir)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer errors.SafeClose(db, "database")

	repo := store.NewRepository(db)
	ledger := bonus.NewLedger(db)

	// Load the weight table from the data directory
	weightStore := evaluation.NewWeightStore(dataDir)
	weights, err := weightStore.Load(weightPolicy)
	if err != nil {
		slog.Error("Failed to load weight table", "policy", weightPolicy, "error", err)
		os.Exit(1)
	}

	aggregator, err := evaluation.NewAggregator(weights)
	if err != nil {
		slog.Error("Invalid weight table", "policy", weightPolicy, "error", err)
		os.Exit(1)
	}

	// Read-side cache and services
	rankingCache := query.NewRankingCache(cacheTTL)
	queryService := query.NewService(repo, ledger, rankingCache)
	rankingService := ranking.NewService(repo, ledger, aggregator, recomputeTimeout, rankingCache)
	exporter := export.NewExporter(repo)

	// Token service for role-scoped visibility
	tokenService := auth.NewTokenService(jwtSecret, 24*time.Hour)

	// Monitoring system
	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()
	rankingCache.SetMetrics(appMetrics)

	// Rate limiting with optional Redis backend
	redisClient, err := ratelimit.NewRedisClient(redisAddr, redisPassword, 0)
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis")

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), appMetrics)

	r := gin.New()

	r.Use(monitoring.MonitoringMiddleware(appMetrics, appLogger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{getEnvOrDefault("CORS_ORIGIN", "http://localhost:5173")}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig))

	r.Use(limiter.IPRateLimitMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   "1.0.0",
			"metrics":   appMetrics.GetStats(),
		})
	})

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, appMetrics.GetStats())
	})

	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, rankingCache.GetStats())
	})

	r.GET("/pools/database", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pool":  "database",
			"stats": db.GetPoolStats(),
		})
	})

	r.GET("/ratelimit/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, limiter.GetStats())
	})

	// Swagger documentation routes
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

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

		start := time.Now()
		rec, err := rankingService.AggregateStudent(c.Request.Context(), req.StudentID, term, scores, req.GPA)
		if err != nil {
			respondError(c, errors.ToAppError(err))
			return
		}

		appMetrics.IncrementAggregation()
		appLogger.AggregationLogger(rec.StudentID, term.Key(), rec.TotalScore, rec.Version, time.Since(start))

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

		appMetrics.IncrementBonusEntry()

		// An already-aggregated record picks up the new bonus immediately;
		// otherwise the entry waits in the ledger for the first aggregation
		rec, err := repo.GetRecord(c.Request.Context(), req.StudentID, term)
		if err != nil {
			slog.Warn("Failed to load record after bonus entry",
				"student_id", req.StudentID, "term", term.Key(), "error", err)
		} else if rec != nil {
			scores := evaluation.ComponentScoreSet{
				Academic:       &rec.Scores.Academic,
				Innovation:     &rec.Scores.Innovation,
				Social:         &rec.Scores.Social,
				CulturalSports: &rec.Scores.CulturalSports,
			}
			if _, err := rankingService.AggregateStudent(c.Request.Context(), req.StudentID, term, scores, rec.GPA); err != nil {
				slog.Warn("Failed to refresh aggregate after bonus entry",
					"student_id", req.StudentID, "term", term.Key(), "error", err)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"message":  "bonus entry recorded",
			"entry_id": saved.ID,
		})
	})

	staff.POST("/ranking/calculate", limiter.RecomputeRateLimitMiddleware(), func(c *gin.Context) {
		var req types.RankingRequest
		if err := c.BindJSON(&req); err != nil {
			respondError(c, errors.NewValidationError("invalid ranking payload", err.Error()))
			return
		}

		term := evaluation.Term{AcademicYear: req.AcademicYear, Semester: req.Semester}

		start := time.Now()
		if err := rankingService.RecomputeTerm(c.Request.Context(), term); err != nil {
			appErr := errors.ToAppError(err)
			switch {
			case errors.IsConflict(appErr):
				appMetrics.IncrementRankingConflict()
			case appErr.Category == errors.CategoryTimeout:
				appMetrics.IncrementRankingTimeout()
			}
			respondError(c, appErr)
			return
		}

		appMetrics.IncrementRankingPass()
		appLogger.RankingLogger(term.Key(), "all", 0, time.Since(start))

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

	// Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		slog.Info("Starting server", "port", port, "data_dir", dataDir, "weight_policy", weightPolicy)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// respondError logs and writes an AppError with its mapped HTTP status
func respondError(c *gin.Context, appErr *errors.AppError) {
	errors.LogError(c, appErr)
	c.JSON(appErr.HTTPStatus, appErr)
}

// termFromQuery parses academic_year and semester query parameters. On
// failure it writes the validation response and returns ok=false.
func termFromQuery(c *gin.Context) (evaluation.Term, bool) {
	year := c.Query("academic_year")
	semesterStr := c.Query("semester")
	if year == "" || semesterStr == "" {
		respondError(c, errors.NewValidationError("academic_year and semester are required"))
		return evaluation.Term{}, false
	}

	semester, err := strconv.Atoi(semesterStr)
	if err != nil {
		respondError(c, errors.NewValidationError("semester must be an integer"))
		return evaluation.Term{}, false
	}

	term := evaluation.Term{AcademicYear: year, Semester: semester}
	if err := term.Validate(); err != nil {
		respondError(c, errors.ToAppError(err))
		return evaluation.Term{}, false
	}

	return term, true
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}
