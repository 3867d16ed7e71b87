package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/ewen-r/to-do-list/api"
	"github.com/ewen-r/to-do-list/auth"
	"github.com/ewen-r/to-do-list/policy"
	"github.com/ewen-r/to-do-list/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	usersTableName := os.Getenv("USERS_TABLE")
	if connStr == "" || tasksTableName == "" || usersTableName == "" {
		log.Fatal("missing storage config")
	}
	activityQueueName := os.Getenv("ACTIVITY_QUEUE")
	store, err := storage.New(connStr, tasksTableName, usersTableName, activityQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var taskStore policy.TaskStore = store
	var directory auth.Directory = store
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		rc := redis.NewClient(redisOptions(redisConn))
		ttl := 5 * time.Minute
		if v := os.Getenv("CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid CACHE_TTL: %v", err)
			}
			ttl = d
		}
		taskStore = storage.NewCache(store, rc, ttl)
	}

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		log.Fatal("missing SESSION_SECRET")
	}

	anonymousOwner := ""
	if anon, err := strconv.ParseBool(os.Getenv("ANONYMOUS_MODE")); err == nil && anon {
		anonymousOwner = "anonymous"
	}
	lists := policy.New(taskStore, os.Getenv("DEFAULT_LIST"), anonymousOwner)
	gate := auth.NewGate(directory)

	logger := log.New()

	var recorder *api.Recorder
	if activityQueueName != "" {
		recorder = api.NewRecorder(store, logger)
	}

	oidc, err := oidcFromEnv(gate)
	if err != nil {
		log.Fatalf("oidc: %v", err)
	}

	e := echo.New()
	e.Use(middleware.Recover())
	e.Use(api.SessionMiddleware([]byte(sessionSecret)))

	api.Register(e, lists, gate, oidc, recorder, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	recorder.Close()
}

// redisOptions accepts either a redis URL or the comma separated
// host,key=value form used by managed caches.
func redisOptions(redisConn string) *redis.Options {
	opts, err := redis.ParseURL(redisConn)
	if err == nil {
		return opts
	}
	parts := strings.Split(redisConn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

// oidcFromEnv builds the external-identity login flow, or returns nil when no
// provider is configured.
func oidcFromEnv(gate *auth.Gate) (*api.OIDC, error) {
	domain := os.Getenv("OIDC_DOMAIN")
	clientID := os.Getenv("OIDC_CLIENT_ID")
	if domain == "" && clientID == "" {
		return nil, nil
	}
	if domain == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC_DOMAIN and OIDC_CLIENT_ID must both be set")
	}
	redirectURL := os.Getenv("OIDC_REDIRECT_URL")
	if redirectURL == "" {
		return nil, fmt.Errorf("missing OIDC_REDIRECT_URL")
	}

	issuer := "https://" + domain + "/"
	var verifier *auth.Verifier
	if os.Getenv("AUTH_TEST_MODE") == "1" {
		verifier = auth.NewVerifier(nil, clientID, issuer)
	} else {
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
		verifier = auth.NewVerifier(jwks, clientID, issuer)
	}

	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://" + domain + "/authorize",
			TokenURL: "https://" + domain + "/oauth/token",
		},
	}
	return &api.OIDC{Config: cfg, Verifier: verifier}, nil
}
