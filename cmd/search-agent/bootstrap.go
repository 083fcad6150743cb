package main

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/spasmodic123/search-agent/internal/config"
	"github.com/spasmodic123/search-agent/internal/llm"
	"github.com/spasmodic123/search-agent/internal/tools"
)

// buildClient constructs the provider client with the web tool descriptors
// attached.
func buildClient(cfg *config.Config, logger *zap.Logger) (llm.Client, error) {
	if !cfg.Provider.APIKey.IsSet() {
		return nil, fmt.Errorf("provider api key is not set (SEARCHAGENT_PROVIDER__API_KEY)")
	}
	clientCfg := llm.DefaultConfig()
	clientCfg.BaseURL = cfg.Provider.BaseURL
	clientCfg.APIKey = cfg.Provider.APIKey.Value()
	clientCfg.Model = cfg.Provider.Model
	clientCfg.Temperature = cfg.Provider.Temperature

	return llm.New(clientCfg, tools.Descriptors(), llm.DefaultLeakDetector, logger)
}

// buildGateway constructs the web capability gateway from config.
func buildGateway(cfg *config.Config, logger *zap.Logger) tools.Gateway {
	searcherCfg := tools.DefaultSearcherConfig()
	searcherCfg.MaxResults = cfg.Tools.SearchMaxResults
	searcherCfg.RequestsPerMinute = cfg.Tools.SearchRequestsPerMin
	searcherCfg.Timeout = cfg.Tools.RequestTimeout

	visitorCfg := tools.DefaultVisitorConfig()
	visitorCfg.Timeout = cfg.Tools.RequestTimeout
	visitorCfg.MaxChars = cfg.Tools.VisitMaxChars
	visitorCfg.MaxAttempts = cfg.Tools.VisitMaxFetchAttempts

	return tools.NewGateway(
		tools.NewSearcher(searcherCfg, logger),
		tools.NewVisitor(visitorCfg, logger),
		logger,
	)
}

// connectBroker connects to NATS, starting an embedded JetStream-enabled
// broker first when configured. The returned server is nil when connecting
// to an external broker.
func connectBroker(cfg config.NATSConfig, logger *zap.Logger) (*natsserver.Server, *nats.Conn, error) {
	url := cfg.URL
	var srv *natsserver.Server

	if cfg.Embedded {
		opts := &natsserver.Options{
			Host:      "127.0.0.1",
			Port:      -1,
			NoLog:     true,
			NoSigs:    true,
			JetStream: true,
		}
		var err error
		srv, err = natsserver.NewServer(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("create embedded broker: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(10 * time.Second) {
			srv.Shutdown()
			return nil, nil, fmt.Errorf("embedded broker not ready")
		}
		url = srv.ClientURL()
		logger.Info("embedded broker started", zap.String("url", url))
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		if srv != nil {
			srv.Shutdown()
		}
		return nil, nil, fmt.Errorf("connect to broker %s: %w", url, err)
	}
	return srv, nc, nil
}
