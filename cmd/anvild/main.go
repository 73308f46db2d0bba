// Command anvild runs one Anvil storage node: the Global Control Plane
// (raft), the Regional Store, the Local Shard Store, cluster membership,
// the task queue and its handlers, the internal shard gRPC service, the
// external gRPC façade, and the S3-compatible HTTP gateway.
//
// Grounded on the teacher's cmd/warren/main.go (cobra root command,
// persistent flags bound to a Config struct, cobra.OnInitialize for
// logging setup, a background metrics HTTP server, and a final
// signal/error select driving orderly shutdown), reduced to a single
// "server" subcommand since a CLI client is an explicit Non-goal here.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/nacl/secretbox"
	"google.golang.org/grpc"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/bucketmanager"
	"github.com/anvilfs/anvil/pkg/cluster"
	"github.com/anvilfs/anvil/pkg/codec"
	"github.com/anvilfs/anvil/pkg/config"
	"github.com/anvilfs/anvil/pkg/externalrpc"
	"github.com/anvilfs/anvil/pkg/globalstore"
	"github.com/anvilfs/anvil/pkg/gossip"
	"github.com/anvilfs/anvil/pkg/ingestion"
	"github.com/anvilfs/anvil/pkg/internalrpc"
	"github.com/anvilfs/anvil/pkg/localstore"
	"github.com/anvilfs/anvil/pkg/log"
	"github.com/anvilfs/anvil/pkg/metrics"
	"github.com/anvilfs/anvil/pkg/objectmanager"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/s3gateway"
	"github.com/anvilfs/anvil/pkg/taskhandlers"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "anvild",
	Short:   "Anvil - multi-tenant, multi-region S3-compatible object store",
	Version: Version,
}

var cfgFile string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("anvild version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("region", "", "Region name this node serves")
	rootCmd.PersistentFlags().String("node-id", "node-1", "Raft node id for the global control plane")
	rootCmd.PersistentFlags().String("global-data-dir", "", "Global control plane (raft+bbolt) data directory")
	rootCmd.PersistentFlags().String("regional-data-dir", "", "Regional store (bbolt) data directory")
	rootCmd.PersistentFlags().String("shard-store-root", "", "Local shard store root directory")
	rootCmd.PersistentFlags().String("cluster-secret", "", "Shared secret gossip peers authenticate with")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HMAC secret used to mint/verify bearer tokens")
	rootCmd.PersistentFlags().String("secret-encryption-key", "", "64 hex chars (32 bytes) used to encrypt app secrets and ingestion tokens")
	rootCmd.PersistentFlags().String("cluster-listen-addr", "", "Raft transport listen address for the global control plane")
	rootCmd.PersistentFlags().String("shard-rpc-addr", "", "Internal shard gRPC listen address")
	rootCmd.PersistentFlags().String("public-api-addr", "", "S3-compatible HTTP gateway listen address")
	rootCmd.PersistentFlags().String("api-listen-addr", "", "External gRPC façade listen address")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9091", "Metrics/health HTTP listen address")
	rootCmd.PersistentFlags().Bool("init-cluster", false, "Bootstrap a new single-node raft cluster on this node")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// loadConfig merges Default() -> YAML file -> flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	applyString := func(name string, dst *string) {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	applyString("region", &cfg.Region)
	applyString("global-data-dir", &cfg.GlobalDataDir)
	applyString("regional-data-dir", &cfg.RegionalDataDir)
	applyString("shard-store-root", &cfg.ShardStoreRoot)
	applyString("cluster-secret", &cfg.ClusterSecret)
	applyString("jwt-secret", &cfg.JWTSecret)
	applyString("secret-encryption-key", &cfg.SecretEncryptionKeyHex)
	applyString("cluster-listen-addr", &cfg.ClusterListenAddr)
	applyString("shard-rpc-addr", &cfg.ShardRPCAddr)
	applyString("public-api-addr", &cfg.PublicAPIAddr)
	applyString("api-listen-addr", &cfg.APIListenAddr)
	if flags.Changed("init-cluster") {
		cfg.InitCluster, _ = flags.GetBool("init-cluster")
	}
	return cfg, nil
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run an Anvil storage node",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	encKey, err := cfg.EncryptionKey()
	if err != nil {
		return err
	}

	logger := log.WithComponent("anvild")
	nodeID, _ := cmd.Flags().GetString("node-id")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	logger.Info().Str("region", cfg.Region).Str("node_id", nodeID).Msg("starting anvil node")

	// Global Control Plane (raft)
	global := globalstore.NewManager(globalstore.Config{
		NodeID:    nodeID,
		BindAddr:  cfg.ClusterListenAddr,
		DataDir:   cfg.GlobalDataDir,
		Bootstrap: cfg.InitCluster,
	}, logger)
	if err := global.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap global control plane: %w", err)
	}

	// Regional Store (object/task/ingestion metadata)
	regional, err := regionalstore.New(cfg.RegionalDataDir)
	if err != nil {
		return fmt.Errorf("open regional store: %w", err)
	}
	defer regional.Close()

	// Local Shard Store
	local, err := localstore.New(cfg.ShardStoreRoot)
	if err != nil {
		return fmt.Errorf("open local shard store: %w", err)
	}

	// Cluster membership + gossip
	clusterState := cluster.New()
	clusterState.Upsert(&types.Peer{Identity: nodeID, GRPCAddr: cfg.ShardRPCAddr})
	membership := gossip.NewMembership(clusterState)
	membership.Start()
	defer membership.Stop()

	shardCodec, err := codec.New(cfg.CodecDataShards, cfg.CodecParityShards, encKey)
	if err != nil {
		return fmt.Errorf("build shard codec: %w", err)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret)

	queue := taskqueue.New(regional, cfg.TaskMaxAttempts)
	pool := taskqueue.NewPool(queue, time.Duration(cfg.TaskPollIntervalSeconds)*time.Second, 10, logger)

	objects := objectmanager.New(local, clusterState, regional, global, queue, shardCodec, tokens, cfg.Region, logger)
	buckets := bucketmanager.New(global, queue)

	taskDeps := taskhandlers.NewDeps(local, regional, global, queue, clusterState, tokens, cfg.Region)
	taskhandlers.Register(pool, taskDeps)

	hfClient := ingestion.NewHFClient("")
	ingestionDeps := ingestion.NewDeps(regional, objects, hfClient, encKey, logger)
	ingestion.Register(pool, ingestionDeps)

	pool.Start()
	defer pool.Stop()

	// Internal shard gRPC service
	shardStore := internalrpc.NewShardStore(local, tokens)
	internalSrv := grpc.NewServer()
	internalrpc.RegisterShardServer(internalSrv, shardStore)
	internalLis, err := net.Listen("tcp", cfg.ShardRPCAddr)
	if err != nil {
		return fmt.Errorf("listen on shard rpc address: %w", err)
	}

	// External gRPC façade
	resolveApp := func(clientID, clientSecret string) (int64, int64, []string, error) {
		app, err := global.FindAppByClientID(clientID)
		if err != nil {
			return 0, 0, nil, err
		}
		secret, err := decryptAppSecret(app.EncryptedSecret, encKey)
		if err != nil {
			return 0, 0, nil, err
		}
		if secret != clientSecret {
			return 0, 0, nil, anvilerr.New(anvilerr.Unauthenticated, "invalid client secret")
		}
		scopes := scopesFor(global, app.ID)
		return app.ID, app.TenantID, scopes, nil
	}
	mintToken := func(appID, tenantID int64, scopes []string) (string, error) {
		return tokens.Mint(appID, tenantID, scopes, 0)
	}

	authInterceptor := externalrpc.AuthInterceptor(tokens)
	externalSrv := grpc.NewServer(grpc.UnaryInterceptor(authInterceptor))
	externalrpc.RegisterAuthServer(externalSrv, externalrpc.NewAuthServer(resolveApp, mintToken))
	externalrpc.RegisterBucketServer(externalSrv, externalrpc.NewBucketServer(buckets))
	externalrpc.RegisterObjectServer(externalSrv, externalrpc.NewObjectServer(objects))
	externalLis, err := net.Listen("tcp", cfg.APIListenAddr)
	if err != nil {
		return fmt.Errorf("listen on api address: %w", err)
	}

	// S3-compatible HTTP gateway
	credentialLookup := func(accessKeyID string) (string, int64, int64, []string, error) {
		app, err := global.FindAppByClientID(accessKeyID)
		if err != nil {
			return "", 0, 0, nil, err
		}
		secret, err := decryptAppSecret(app.EncryptedSecret, encKey)
		if err != nil {
			return "", 0, 0, nil, err
		}
		return secret, app.ID, app.TenantID, scopesFor(global, app.ID), nil
	}
	verifier := s3gateway.NewSigV4Verifier(credentialLookup)
	gateway := s3gateway.New(objects, buckets, verifier, logger)
	gatewaySrv := &http.Server{Addr: cfg.PublicAPIAddr, Handler: gateway.Router()}

	errCh := make(chan error, 3)
	go func() {
		logger.Info().Str("addr", cfg.ShardRPCAddr).Msg("internal shard rpc listening")
		if err := internalSrv.Serve(internalLis); err != nil {
			errCh <- fmt.Errorf("internal rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.APIListenAddr).Msg("external rpc listening")
		if err := externalSrv.Serve(externalLis); err != nil {
			errCh <- fmt.Errorf("external rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.PublicAPIAddr).Msg("s3 gateway listening")
		if err := gatewaySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("s3 gateway server: %w", err)
		}
	}()
	go func() {
		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", metrics.Handler())
		metricsRouter.HandleFunc("/health", healthHandler)
		metricsRouter.HandleFunc("/ready", healthHandler)
		metricsRouter.HandleFunc("/live", healthHandler)
		logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
		if err := http.ListenAndServe(metricsAddr, metricsRouter); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = gatewaySrv.Shutdown(ctx)
	externalSrv.GracefulStop()
	internalSrv.GracefulStop()

	logger.Info().Msg("shutdown complete")
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func scopesFor(global *globalstore.Manager, appID int64) []string {
	policies := global.PoliciesForApp(appID)
	scopes := make([]string, 0, len(policies))
	for _, p := range policies {
		scopes = append(scopes, auth.Scope{Action: auth.Action(p.Action), Pattern: p.ResourcePattern}.String())
	}
	return scopes
}

// decryptAppSecret opens an App.EncryptedSecret sealed with the
// process-wide secret encryption key, the same nonce-prefixed secretbox
// construction pkg/ingestion uses for Hugging Face tokens.
func decryptAppSecret(sealed []byte, key [32]byte) (string, error) {
	const nonceSize = 24
	if len(sealed) < nonceSize {
		return "", anvilerr.New(anvilerr.Internal, "app secret ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &key)
	if !ok {
		return "", anvilerr.New(anvilerr.Internal, "app secret decryption failed")
	}
	return string(plain), nil
}
