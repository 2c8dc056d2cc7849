// Command kg-api-server is the entry point: it loads configuration,
// wires the MetadataStore/GraphStore/ExtractorAdapter/Orchestrator/
// QueryService stack against Neo4j, runs startup recovery, serves the
// HTTP surface, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/denghuinow/kg-api-server/internal/clock"
	"github.com/denghuinow/kg-api-server/internal/config"
	"github.com/denghuinow/kg-api-server/internal/extractor"
	"github.com/denghuinow/kg-api-server/internal/extractor/anthropicclient"
	"github.com/denghuinow/kg-api-server/internal/extractor/httpembedclient"
	"github.com/denghuinow/kg-api-server/internal/extractor/tokenest"
	"github.com/denghuinow/kg-api-server/internal/graphstore"
	"github.com/denghuinow/kg-api-server/internal/hooks"
	_ "github.com/denghuinow/kg-api-server/internal/hooks/boltstore"
	"github.com/denghuinow/kg-api-server/internal/httpapi"
	"github.com/denghuinow/kg-api-server/internal/metadatastore"
	"github.com/denghuinow/kg-api-server/internal/obslog"
	"github.com/denghuinow/kg-api-server/internal/orchestrator"
	"github.com/denghuinow/kg-api-server/internal/queryservice"
	"github.com/denghuinow/kg-api-server/internal/ratelimit"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kg-api-server",
	Short: "builds and serves a versioned knowledge graph extracted from text",
	Long: `kg-api-server triggers full and incremental knowledge-graph builds
from a pluggable DataHooks source, extracts entities and relations
through a rate-limited LLM adapter, persists them to Neo4j under a
monotonic version tag, and serves a read-only query API bound to the
latest successfully built version.`,
	RunE: runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := obslog.New(os.Stdout, "kg-api-server")

	ctx := context.Background()

	meta, err := metadatastore.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.ResolvedPassword(), cfg.Neo4j.Database)
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	defer meta.Close(context.Background())

	graph, err := graphstore.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.ResolvedPassword(), cfg.Neo4j.Database)
	if err != nil {
		return fmt.Errorf("connect graph store: %w", err)
	}
	defer graph.Close(context.Background())

	dataHooks, err := hooks.New(cfg.Hooks.Module, cfg.Hooks.Full, cfg.Hooks.Incremental)
	if err != nil {
		return fmt.Errorf("build data hooks: %w", err)
	}

	estimator, err := tokenest.New()
	if err != nil {
		return fmt.Errorf("build token estimator: %w", err)
	}

	chatClient := anthropicclient.New(cfg.LLM.ResolvedAPIKey(), cfg.LLM.APIBaseURL, cfg.LLM.Model)
	chatCaller := ratelimit.New(callerConfig(cfg.LLM), clock.Real{})

	var embedClient extractor.EmbeddingClient
	var embedCaller *ratelimit.Caller
	if cfg.Embeddings.APIBaseURL != "" {
		embedClient = httpembedclient.New(cfg.Embeddings.ResolvedAPIKey(), cfg.Embeddings.APIBaseURL, cfg.Embeddings.Model)
		embedCaller = ratelimit.New(callerConfig(cfg.Embeddings), clock.Real{})
	}

	adapter := extractor.New(chatClient, chatCaller, embedClient, embedCaller, estimator,
		extractor.Config{
			MaxTokens:         cfg.LLM.MaxTokens,
			Temperature:       cfg.LLM.Temperature,
			RepetitionPenalty: cfg.LLM.RepetitionPenalty,
		}, anthropicclient.IsTransient)

	orch := orchestrator.New(meta, graph, dataHooks, adapter, clock.Real{},
		orchestrator.RetentionConfig{MaxVersions: cfg.Retention.MaxVersions, EnableCleanup: cfg.Retention.EnableCleanup},
		cfg.Task.Timeout(), log)

	if err := orch.RecoverOnStartup(ctx); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}

	querySvc := queryservice.New(meta, graph, queryservice.Defaults{
		LimitNodes: cfg.Query.DefaultLimitNodes,
		LimitEdges: cfg.Query.DefaultLimitEdges,
		Depth:      cfg.Query.DefaultDepth,
	})

	handlers := httpapi.New(orch, querySvc)
	serverCfg := httpapi.ServerConfig{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		CORSAllowOrigins: cfg.Server.CORSAllowOrigins,
		ReadTimeout:      cfg.Server.ReadTimeout(),
		WriteTimeout:     cfg.Server.WriteTimeout(),
		ShutdownTimeout:  cfg.Server.ShutdownTimeout(),
	}
	server := httpapi.NewServer(serverCfg, log, handlers)

	go func() {
		log.Info("server starting on " + serverCfg.Addr())
		if err := httpapi.Start(server, serverCfg); err != nil && err != http.ErrServerClosed {
			log.ErrorWithErr(err, "server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	orch.Shutdown()

	return httpapi.Shutdown(context.Background(), server, serverCfg.ShutdownTimeout)
}

func callerConfig(e config.UpstreamEndpoint) ratelimit.Config {
	return ratelimit.Config{
		RPM:               e.RateLimit.RPM,
		TPM:               e.RateLimit.TPM,
		MaxInFlight:       e.Concurrency.MaxInFlight,
		MaxRetries:        e.Retry.MaxRetries,
		InitialBackoff:    time.Duration(e.Retry.InitialBackoffS * float64(time.Second)),
		MaxBackoff:        time.Duration(e.Retry.MaxBackoffS * float64(time.Second)),
		BackoffMultiplier: e.Retry.BackoffMultiplier,
	}
}
