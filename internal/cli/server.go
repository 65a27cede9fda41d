package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quizlive-service/internal/app"
	"quizlive-service/internal/config"
	"quizlive-service/internal/domain"
	"quizlive-service/internal/infra/memory"
	pgstore "quizlive-service/internal/infra/postgres"
	rediscache "quizlive-service/internal/infra/redis"
	transport "quizlive-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var store app.SessionStore
	var loader memory.QuizLoader
	if pool != nil {
		store = pgstore.NewStore(pool)
		loader = pgstore.NewQuizLoader(pool)
	} else {
		// No database: run fully in memory with demo content.
		memStore := memory.NewSessionStore()
		memStore.RegisterQuiz(sampleQuiz(), sampleInstructor())
		store = memStore
		loader = memory.NewStaticQuizLoader(map[string]domain.Quiz{
			sampleQuiz().PublicID: sampleQuiz(),
		})
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	var quizzes app.QuizRepository
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		quizzes = rediscache.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	grace := config.Duration(cfg.Session.GracePeriod, app.DefaultGracePeriod)
	registry := app.NewSessionRegistry(store, quizzes, grace)

	// Rebuild interrupted sessions before accepting any traffic.
	if err := registry.RecoverAll(ctx); err != nil {
		return err
	}
	if n := registry.Len(); n > 0 {
		log.Printf("recovered %d ongoing session(s)", n)
	}

	wsHandler := transport.NewWSHandler(registry)
	sessionHandler := transport.NewSessionHandler(registry, store)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/sessions", sessionHandler.CreateSession)
	mux.HandleFunc("/sessions/report", sessionHandler.Report)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz session service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func sampleInstructor() domain.User {
	return domain.User{ID: 1, PublicID: "11111111-1111-1111-1111-111111111111", Name: "Demo Instructor"}
}

// sampleQuiz provides demo content for database-less runs.
func sampleQuiz() domain.Quiz {
	limit := 30
	return domain.Quiz{
		ID:       1,
		PublicID: "e9a1c7de-0000-4000-8000-000000000001",
		Title:    "Arithmetic warmup",
		Questions: []domain.Question{
			{
				ID:                1,
				PublicID:          "e9a1c7de-0000-4000-8000-000000000002",
				Type:              domain.QuestionText,
				Description:       "What is 2 + 2?",
				CorrectTextAnswer: "4",
			},
			{
				ID:          2,
				PublicID:    "e9a1c7de-0000-4000-8000-000000000003",
				Type:        domain.QuestionMultiChoice,
				Description: "Which number is prime?",
				TimeLimit:   &limit,
				Options: []domain.Option{
					{ID: 1, PublicID: "e9a1c7de-0000-4000-8000-000000000004", Description: "9"},
					{ID: 2, PublicID: "e9a1c7de-0000-4000-8000-000000000005", Description: "7", IsCorrect: true},
					{ID: 3, PublicID: "e9a1c7de-0000-4000-8000-000000000006", Description: "15"},
				},
			},
		},
	}
}
