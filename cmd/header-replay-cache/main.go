package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	headerreplay "github.com/always-cache/header-replay"
	"github.com/always-cache/header-replay/cache"
	"github.com/always-cache/header-replay/httpcache"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	redisAddrFlag      string
	modeFlag           string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to header-replay config file (YAML)")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname to send to the origin (defaults to the origin URL host)")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&providerFlag, "provider", "sqlite", "Cache provider to use: sqlite, memory or redis")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&redisAddrFlag, "redis-addr", "localhost:6379", "Redis address for the redis provider")
	flag.StringVar(&modeFlag, "mode", "sidechannel", "Preflight variant: sidechannel or selfretry")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

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

	if originFlag == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(originFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	provider, closeProvider := newProvider()
	defer closeProvider()

	hc := httpcache.New(httpcache.Config{
		Origin:   newOriginProxy(originURL, hostFlag),
		Provider: provider,
		Logger:   &log.Logger,
	})
	switch modeFlag {
	case "sidechannel":
		hc.Subscribe(headerreplay.NewSideChannel(opts, hc, &log.Logger))
	case "selfretry":
		hc.Subscribe(headerreplay.NewSelfRetry(opts, hc, &log.Logger))
	default:
		log.Fatal().Msgf("Unsupported mode: %s", modeFlag)
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	}))
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/*", hc)

	log.Info().
		Str("mode", modeFlag).
		Str("provider", providerFlag).
		Strs("userContextHeaders", opts.UserContextHeaders).
		Strs("replayHeaders", opts.ReplayHeaders).
		Msgf("Proxying port %v to %s", portFlag, originURL.String())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), r); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// newProvider creates the configured storage provider and its cleanup func.
func newProvider() (cache.Provider, func()) {
	switch providerFlag {
	case "memory":
		return cache.NewMemory(), func() {}
	case "sqlite":
		dbFilename := dbFilenameFlag
		if dbFilename == "memory" {
			dbFilename = ""
		}
		db, err := cache.NewSQLite(dbFilename)
		if err != nil {
			log.Fatal().Err(err).Str("db", dbFilenameFlag).Msg("Could not open cache DB")
		}
		return db, func() { db.Close() }
	case "redis":
		rdb, err := cache.NewRedis(context.Background(), cache.RedisConfig{Addr: redisAddrFlag}, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to Redis")
		}
		return rdb, func() { rdb.Close() }
	}
	log.Fatal().Msgf("Unsupported cache provider: %s", providerFlag)
	return nil, nil
}

// newOriginProxy forwards requests to the origin without following redirects.
func newOriginProxy(origin *url.URL, host string) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			if host != "" {
				pr.Out.Host = host
			}
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			hlog.FromRequest(r).Error().Err(err).Msg("Error contacting origin")
			http.Error(w, "Error contacting origin", http.StatusBadGateway)
		},
	}
}
