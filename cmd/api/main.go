package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"keyward.io/internal/auth"
	"keyward.io/internal/config"
	"keyward.io/internal/grpcauth"
	"keyward.io/internal/httpapi"
	"keyward.io/internal/obs"
	"keyward.io/internal/store/mongostore"
	"keyward.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// stores bundles the persistence chosen by configuration.
type stores struct {
	users       auth.UserStore
	memberships auth.MembershipStore
	pinger      httpapi.Pinger
	close       func(context.Context) error
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		s, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return stores{}, err
		}
		return stores{
			users:       s.Users(),
			memberships: s.Memberships(),
			pinger:      s,
			close:       func(context.Context) error { return s.Close() },
		}, nil
	case config.StoreMongo:
		s, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return stores{}, err
		}
		return stores{
			users:       s.Users(),
			memberships: s.Memberships(),
			pinger:      s,
			close:       s.Close,
		}, nil
	default:
		return stores{
			users:       auth.NewMemoryStore(),
			memberships: auth.NewMemoryMemberships(),
			close:       func(context.Context) error { return nil },
		}, nil
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := obs.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := openStores(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatal("open store", zap.String("store", cfg.Store), zap.Error(err))
	}

	codec, err := auth.NewCodec(cfg.Tokens, st.users)
	if err != nil {
		log.Fatal("token codec", zap.Error(err))
	}
	svc, err := auth.NewService(st.users, codec,
		auth.WithNotifier(logNotifier{log: log.Named("notify")}),
		auth.WithLoginCode(cfg.LoginOTPRequired),
	)
	if err != nil {
		log.Fatal("auth service", zap.Error(err))
	}
	guard := auth.NewGuard(st.memberships)
	members, err := auth.NewMemberships(st.memberships, st.users, guard)
	if err != nil {
		log.Fatal("memberships", zap.Error(err))
	}

	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		log.Fatal("trusted proxies", zap.Error(err))
	}
	api := httpapi.New(svc, members, guard,
		httpapi.WithReadyProbe(httpapi.ReadyProbe{Store: st.pinger}),
		httpapi.WithVersion(version),
		httpapi.WithTOTPHeader(cfg.TOTPHeader),
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		httpapi.WithTrustedProxies(proxies...),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http listen", zap.Error(err))
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = startGRPC(log, cfg.GRPCAddr, svc, guard)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := st.close(ctx); err != nil {
		log.Warn("close store", zap.Error(err))
	}
	log.Info("stopped")
}

// startGRPC serves the standard health service behind the auth interceptors.
// Check stays public for load balancers; Watch requires a Viewer membership.
func startGRPC(log *zap.Logger, addr string, svc *auth.Service, guard *auth.Guard) *grpc.Server {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatal("grpc listen", zap.String("addr", addr), zap.Error(err))
	}
	ic := grpcauth.New(svc, guard,
		grpcauth.Policy{"/grpc.health.v1.Health/Watch": auth.RoleViewer},
		grpcauth.WithPublicMethods("/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/List"),
	)
	server := grpc.NewServer(
		grpc.UnaryInterceptor(ic.Unary()),
		grpc.StreamInterceptor(ic.Stream()),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		log.Info("grpc listening", zap.String("addr", addr))
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("grpc serve", zap.Error(err))
		}
	}()
	return server
}
