// Command demo-origin is a small application that answers header-replay
// preflights. Users authenticate with HTTP basic auth; their role is replayed
// as X-User-Role so that pages can be cached per role instead of per user.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	headerreplay "github.com/always-cache/header-replay"
)

var (
	portFlag           int
	configFilenameFlag string
	ttlFlag            time.Duration
	verbosityTraceFlag bool
)

func init() {
	flag.IntVar(&portFlag, "port", 8081, "Port to listen on")
	flag.StringVar(&configFilenameFlag, "config", "", "Path to header-replay config file (YAML)")
	flag.DurationVar(&ttlFlag, "ttl", 0, "How long preflight answers may be cached (0 disables)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

var users = map[string]struct {
	password string
	role     string
}{
	"alice": {"alice", "admin"},
	"bob":   {"bob", "admin"},
	"carol": {"carol", "editor"},
}

// authenticate returns the role of the user sending r, or "" if the
// credentials are missing or wrong.
func authenticate(r *http.Request) string {
	name, password, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if u, found := users[name]; found && u.password == password {
		return u.role
	}
	return ""
}

// roleProvider replays the role of the authenticated user.
func roleProvider(e *headerreplay.ReplayEvent) {
	if role := authenticate(e.Request); role != "" {
		e.Set("X-User-Role", role)
	}
}

// localeProvider replays the locale chosen with the lang cookie, and
// refreshes the cookie.
func localeProvider(e *headerreplay.ReplayEvent) {
	c, err := e.Request.Cookie("lang")
	if err != nil {
		return
	}
	e.Set("X-Locale", c.Value)
	e.SetCookie(&http.Cookie{Name: "lang", Value: c.Value, Path: "/", MaxAge: 86400})
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var config headerreplay.Config
	if configFilenameFlag != "" {
		var err error
		if config, err = headerreplay.LoadConfigFile(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Could not read config")
		}
	}
	opts, err := headerreplay.NewOptions(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	responder := headerreplay.NewResponder(opts, &log.Logger,
		headerreplay.ProviderFunc(roleProvider),
		headerreplay.ProviderFunc(localeProvider),
	)
	if ttlFlag > 0 {
		responder.Add(headerreplay.ProviderFunc(func(e *headerreplay.ReplayEvent) {
			e.SetTTL(ttlFlag)
		}))
	}

	listeners := headerreplay.NewListeners()
	listeners.RegisterGuard(opts.Tokens)
	// stands in for session bookkeeping, which must not run for preflights
	listeners.Register(headerreplay.PhaseResponse, 0, func(e *headerreplay.ListenerEvent) {
		if user, _, ok := e.Request.BasicAuth(); ok {
			hlog.FromRequest(e.Request).Debug().Str("user", user).Msg("Session touched")
		}
	})
	listeners.Register(headerreplay.PhaseTerminate, 0, func(e *headerreplay.ListenerEvent) {
		hlog.FromRequest(e.Request).Debug().Msg("Request finished")
	})

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(middleware.GetHead)
	r.Use(listeners.Middleware)
	r.Use(responder.Middleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-User-Role")
		if role == "" {
			role = "anonymous"
		}
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.Header().Set("Vary", "Accept, X-User-Role, X-Locale")
		fmt.Fprintf(w, "Hello %s (locale %q), rendered at %s\n", role, r.Header.Get("X-Locale"), time.Now().Format(time.RFC3339))
	})
	// X-User-Role only selects a cached variant; access is checked on the
	// credentials, and the page is kept out of shared caches.
	r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		if authenticate(r) != "admin" {
			w.Header().Set("WWW-Authenticate", `Basic realm="demo"`)
			http.Error(w, "admins only", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Cache-Control", "private, max-age=60")
		fmt.Fprintf(w, "Admin area, rendered at %s\n", time.Now().Format(time.RFC3339))
	})

	log.Info().Msgf("Demo origin listening on port %v", portFlag)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}
