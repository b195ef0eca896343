package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/repomind/repomind/internal/ai"
	"github.com/repomind/repomind/internal/audit"
	"github.com/repomind/repomind/internal/auth"
	"github.com/repomind/repomind/internal/chat"
	"github.com/repomind/repomind/internal/chunker"
	"github.com/repomind/repomind/internal/config"
	"github.com/repomind/repomind/internal/indexer"
	"github.com/repomind/repomind/internal/notify"
	"github.com/repomind/repomind/internal/search"
	"github.com/repomind/repomind/internal/source"
	"github.com/repomind/repomind/internal/store"
	"github.com/repomind/repomind/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("repomind-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().
		Str("embed_provider", cfg.Embedding.Provider).
		Str("log_level", cfg.LogLevel).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting repomind api")

	clientConfig, err := embedConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to configure embedding provider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	embedder, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	embedder = ai.WithRetry(embedder, ai.DefaultRetryConfig())

	dim := embedder.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("embedding client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	splitter, err := chunker.New(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}

	tiers, err := buildTiers(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build analysis tiers: %v", err)
	}
	logger.Info().Int("tiers", len(tiers)).Msg("analysis providers configured")

	hub := notify.NewHub()

	// Anonymous requests share one cached GitHub client; authenticated
	// requests get a fresh uncached client so private content never
	// lands in the shared cache.
	anonSource := source.NewCached(source.NewGitHub(cfg.GithubToken), cfg.Cache.Size, cfg.Cache.TTL)
	sources := source.Factory(func(token string) source.Client {
		if token == "" {
			return anonSource
		}
		return source.NewGitHub(token)
	})

	orch := audit.NewOrchestrator(st, sources, audit.NewRetriever(embedder, st), audit.NewMultiTier(tiers...), hub)
	orch.BatchSize = cfg.Audit.BatchSize
	orch.MaxFileBytes = cfg.Audit.MaxFileSizeKB * 1024
	orch.Selector = &audit.Selector{MaxFiles: cfg.Audit.MaxFiles}
	orch.StartWorkers(ctx, cfg.Audit.Workers)

	authSvc := auth.NewService(auth.Config{
		JWTSecret:    cfg.Auth.JwtSecret,
		ClientID:     cfg.Auth.GithubClientID,
		ClientSecret: cfg.Auth.GithubClientSecret,
		RedirectURL:  cfg.Auth.GithubRedirectURL,
		AllowedOrg:   cfg.Auth.GithubAllowedOrg,
		Enabled:      cfg.Auth.Enabled,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	registerAuthRoutes(mux, authSvc)

	mux.HandleFunc("GET /repositories", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := st.ListRepositories(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, repos)
	}))

	mux.HandleFunc("POST /repositories", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Owner string `json:"owner"`
			Name  string `json:"name"`
			URL   string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Owner == "" || req.Name == "" {
			http.Error(w, "owner and name are required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		id, err := st.CreateRepository(ctx, models.Repository{Owner: req.Owner, Name: req.Name, URL: req.URL})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
	}))

	mux.HandleFunc("POST /repositories/{id}/index", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid repository id", http.StatusBadRequest)
			return
		}
		repo, err := st.GetRepository(r.Context(), id)
		if err != nil {
			repoError(w, err)
			return
		}

		ix := indexer.NewWithDependencies(st, sources(auth.SourceToken(r)), embedder, splitter)
		ix.BatchSize = cfg.Index.BatchSize
		ix.Replace = cfg.Index.Replace

		// Indexing a repository takes minutes; run it out of band.
		go func() {
			stats, err := ix.Run(ctx, repo)
			if err != nil {
				logger.Error().Err(err).Str("repository", repo.FullName()).Msg("indexing failed")
				return
			}
			logger.Info().
				Str("repository", repo.FullName()).
				Int("files_indexed", stats.FilesIndexed).
				Int("files_failed", stats.FilesFailed).
				Int("chunks", stats.Chunks).
				Msg("indexing finished")
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "indexing"})
	}))

	mux.HandleFunc("POST /repositories/{id}/audits", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid repository id", http.StatusBadRequest)
			return
		}

		auditID, err := orch.Start(r.Context(), id, auth.SourceToken(r))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				http.Error(w, "repository not found", http.StatusNotFound)
			case errors.Is(err, audit.ErrQueueFull):
				http.Error(w, err.Error(), http.StatusTooManyRequests)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]int64{"auditId": auditID})
	}))

	mux.HandleFunc("GET /repositories/{id}/audits/latest", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid repository id", http.StatusBadRequest)
			return
		}
		run, err := st.LatestAuditRun(r.Context(), id)
		if err != nil {
			repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}))

	mux.HandleFunc("GET /audits/{id}", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid audit id", http.StatusBadRequest)
			return
		}
		run, err := st.GetAuditRun(r.Context(), id)
		if err != nil {
			repoError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}))

	searchSvc := search.NewService(embedder, st)
	mux.HandleFunc("GET /repositories/{id}/search", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid repository id", http.StatusBadRequest)
			return
		}
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}
		k := 0
		if v := r.URL.Query().Get("k"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				k = n
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		res, err := searchSvc.Query(ctx, id, q, k)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}))

	chatSvc := chat.NewService(searchSvc, buildChatBackends(ctx, cfg, logger)...)
	mux.HandleFunc("POST /repositories/{id}/chat", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid repository id", http.StatusBadRequest)
			return
		}
		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		req.RepositoryID = id
		if _, err := st.GetRepository(r.Context(), id); err != nil {
			repoError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		resp, err := chatSvc.Chat(ctx, req)
		if err != nil {
			if errors.Is(err, chat.ErrNoBackends) {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}))

	mux.HandleFunc("GET /audits/{id}/findings", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			http.Error(w, "invalid audit id", http.StatusBadRequest)
			return
		}
		findings, err := st.ListFindings(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, findings)
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// The UI is served from a different origin in development.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	mux.HandleFunc("GET /ws/audits", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		go streamNotifications(conn, hub, logger)
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

// embedConfig maps the embedding section onto a client config.
func embedConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.Embedding.APIKey,
			EmbedModel: cfg.Embedding.Model,
			Dim:        cfg.Embedding.Dim,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.Embedding.APIKey,
			EmbedModel: cfg.Embedding.Model,
			Dim:        cfg.Embedding.Dim,
			ProjectID:  cfg.Embedding.ProjectID,
			Location:   cfg.Embedding.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{Dim: cfg.Embedding.Dim, Provider: ai.ProviderStub}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
}

// buildTiers assembles the configured analysis providers in fallback
// order: finetuned first, then Gemini, then OpenAI.
func buildTiers(ctx context.Context, cfg config.Specification) ([]audit.Provider, error) {
	var tiers []audit.Provider

	if cfg.Analysis.FinetunedURLs != "" {
		tiers = append(tiers, audit.NewFinetuned(cfg.Analysis.FinetunedURLs, cfg.Analysis.FinetunedToken))
	}
	if cfg.Analysis.GeminiAPIKey != "" {
		gemini, err := audit.NewGemini(ctx, cfg.Analysis.GeminiAPIKey, cfg.Analysis.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini tier: %w", err)
		}
		tiers = append(tiers, gemini)
	}
	if cfg.Analysis.OpenAIAPIKey != "" {
		tiers = append(tiers, audit.NewOpenAI(cfg.Analysis.OpenAIAPIKey, cfg.Analysis.OpenAIModel))
	}

	if len(tiers) == 0 {
		return nil, errors.New("no analysis providers configured")
	}
	return tiers, nil
}

// buildChatBackends assembles the chat generators in fallback order:
// Gemini first, then OpenAI. An empty list is not fatal; the chat
// endpoint reports itself unavailable instead.
func buildChatBackends(ctx context.Context, cfg config.Specification, logger zerolog.Logger) []chat.Generator {
	var backends []chat.Generator

	if cfg.Analysis.GeminiAPIKey != "" {
		gemini, err := chat.NewGemini(ctx, cfg.Analysis.GeminiAPIKey, cfg.Analysis.GeminiModel)
		if err != nil {
			logger.Error().Err(err).Msg("gemini chat backend unavailable")
		} else {
			backends = append(backends, gemini)
		}
	}
	if cfg.Analysis.OpenAIAPIKey != "" {
		backends = append(backends, chat.NewOpenAI(cfg.Analysis.OpenAIAPIKey, cfg.Analysis.OpenAIModel))
	}

	if len(backends) == 0 {
		logger.Warn().Msg("no chat backends configured; chat endpoint disabled")
	}
	return backends
}

func registerAuthRoutes(mux *http.ServeMux, svc *auth.Service) {
	mux.HandleFunc("GET /auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": svc.Enabled()})
	})

	if !svc.Enabled() {
		return
	}

	mux.HandleFunc("GET /auth/github", func(w http.ResponseWriter, r *http.Request) {
		state := svc.GenerateState()
		http.SetCookie(w, &http.Cookie{
			Name:     "oauth_state",
			Value:    state,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, svc.LoginURL(state), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")

		stateCookie, err := r.Cookie("oauth_state")
		if err != nil || stateCookie.Value != state {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

		if code == "" {
			http.Error(w, "Missing code parameter", http.StatusBadRequest)
			return
		}

		accessToken, err := svc.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
			return
		}
		user, err := svc.FetchUser(r.Context(), accessToken)
		if err != nil {
			http.Error(w, "Failed to get user info: "+err.Error(), http.StatusInternalServerError)
			return
		}
		token, err := svc.IssueSession(user, accessToken)
		if err != nil {
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     "auth_token",
			Value:    token,
			Path:     "/",
			MaxAge:   86400,
			HttpOnly: true,
			Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
			SameSite: http.SameSiteLaxMode,
		})
		writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
	})

	mux.HandleFunc("GET /auth/me", svc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFromRequest(r)
		if claims == nil {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": claims.User})
	}))

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "auth_token", Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})
}

// streamNotifications forwards hub messages to one websocket client
// until the connection drops.
func streamNotifications(conn *websocket.Conn, hub *notify.Hub, logger zerolog.Logger) {
	ch, cancel := hub.Subscribe(notify.TopicAuditUpdates)
	defer cancel()
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("websocket close")
		}
	}()

	// Drain client frames so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func repoError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
