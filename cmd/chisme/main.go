package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/chisme-chat/chisme/auth"
	"github.com/chisme-chat/chisme/config"
	"github.com/chisme-chat/chisme/globals"
	"github.com/chisme-chat/chisme/persistence"
	"github.com/chisme-chat/chisme/presence"
	"github.com/chisme-chat/chisme/store"
	"github.com/chisme-chat/chisme/types"
	"github.com/chisme-chat/chisme/voice"
	"github.com/chisme-chat/chisme/ws"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	var ephemeral store.Store
	if cfg.RedisURL != "" {
		redisStore, err := store.NewRedisStore(context.Background(), cfg.RedisURL)
		if err != nil {
			// degraded start is fine, presence/voice fall back to empty
			globals.AppLogger.Warn("redis unavailable, live state degrades until it returns", "error", err)
		}
		if redisStore != nil {
			ephemeral = redisStore
		}
	} else {
		buntStore, err := store.NewBuntStore(":memory:")
		if err != nil {
			panic(err)
		}
		ephemeral = buntStore
	}
	if ephemeral != nil {
		defer ephemeral.Close()
	}

	persister, err := persistence.NewGormPersister(cfg.Persistence.DSN)
	if err != nil {
		panic(err)
	}
	if persister != nil {
		defer persister.Close()
	}

	presenceSvc := presence.NewService(ephemeral, cfg.ServerDomain, cfg.PresenceTTL, globals.AppLogger.Named("presence"))
	voiceReg := voice.NewRegistry(ephemeral, cfg.ServerDomain, cfg.PresenceTTL, globals.AppLogger.Named("voice"))
	registry := ws.NewRegistry(globals.AppLogger.Named("registry"))
	verifier := auth.NewJWTVerifier(cfg.Auth.Secret)

	dispatcher := &ws.Dispatcher{
		Registry:         registry,
		Presence:         presenceSvc,
		Voice:            voiceReg,
		Verifier:         verifier,
		Persister:        persister,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           globals.AppLogger.Named("ws"),
	}

	sweeper, err := ws.NewSweeper(registry, voiceReg, cfg.SweepSpec, globals.AppLogger.Named("sweeper"))
	if err != nil {
		panic(fmt.Sprintf("invalid sweep spec: %s", err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	api := &apiHandlers{
		presence:  presenceSvc,
		persister: persister,
		verifier:  verifier,
	}
	router := mux.NewRouter()
	setupRoutes(router, cfg, dispatcher, api)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		globals.AppLogger.Info("interrupted, shutting down")
		sweeper.Stop()
		os.Exit(0)
	}()

	globals.AppLogger.Info("listening", "addr", cfg.ListenAddr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(cfg.ListenAddr, *sslCert, *sslKey, router)
	} else {
		err = http.ListenAndServe(cfg.ListenAddr, router)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

func setupRoutes(router *mux.Router, cfg *config.Config, dispatcher *ws.Dispatcher, api *apiHandlers) {
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// one socket kind per room kind
	router.HandleFunc("/ws/"+cfg.RoomPrefixes.Channel+"/{id:[0-9]+}",
		websocketHandler(dispatcher, types.RoomChannel)).Methods(http.MethodGet)
	router.HandleFunc("/ws/"+cfg.RoomPrefixes.DM+"/{id:[0-9]+}",
		websocketHandler(dispatcher, types.RoomDM)).Methods(http.MethodGet)
	router.HandleFunc("/ws/"+cfg.RoomPrefixes.Community+"/{id:[0-9]+}",
		websocketHandler(dispatcher, types.RoomCommunity)).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(api.requireUser)
	apiRouter.HandleFunc("/users/me/presence", api.getMyPresence).Methods(http.MethodGet)
	apiRouter.HandleFunc("/users/me/status", api.setMyStatus).Methods(http.MethodPost)
	apiRouter.HandleFunc("/users/{id:[0-9]+}/presence", api.getUserPresence).Methods(http.MethodGet)
	apiRouter.HandleFunc("/presence/bulk", api.getBulkPresence).Methods(http.MethodGet)
	apiRouter.HandleFunc("/channels/unread", api.getUnreadCounts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/channels/{id:[0-9]+}/read", api.markChannelRead).Methods(http.MethodPost)
}

// websocketHandler upgrades the request and hands the connection to the
// dispatcher; authentication happens in-band as the first frame.
func websocketHandler(dispatcher *ws.Dispatcher, kind types.RoomKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			globals.AppLogger.Error("websocket upgrade error", "error", err)
			return
		}
		dispatcher.Serve(r.Context(), conn, types.Room{Kind: kind, Id: id})
	}
}
