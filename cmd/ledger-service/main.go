package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/auditor"
	lhttp "github.com/radieske/ledger-core/internal/ledger-service/http"
	"github.com/radieske/ledger-core/internal/ledger-service/producer"
	lrepo "github.com/radieske/ledger-core/internal/ledger-service/repo"
	"github.com/radieske/ledger-core/internal/ledger-service/service"
	"github.com/radieske/ledger-core/internal/ledger-service/sign"
	risk "github.com/radieske/ledger-core/internal/risk-engine"
	riskcache "github.com/radieske/ledger-core/internal/risk-engine/cache"
	"github.com/radieske/ledger-core/internal/shared/cache"
	"github.com/radieske/ledger-core/internal/shared/config"
	"github.com/radieske/ledger-core/internal/shared/db"
	"github.com/radieske/ledger-core/internal/shared/kafka"
	"github.com/radieske/ledger-core/internal/shared/logger"
	"github.com/radieske/ledger-core/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Inicializa logger estruturado
	log, err := logger.New("ledger-service", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("starting service", zap.String("service", "ledger-service"), zap.String("env", cfg.Env))

	// Conexão com Postgres (fonte de verdade do ledger)
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	store := lrepo.NewPostgres(pg)
	if err := store.Migrate(context.Background()); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// Assinador HMAC das transações; sem chave o serviço não sobe
	signer, err := sign.New(cfg.SigningKey)
	if err != nil {
		log.Fatal("signer init", zap.Error(err))
	}

	// Redis é opcional: sem ele as métricas de risco são recomputadas a cada leitura
	var metricsCache risk.MetricsCache
	if rdb, err := cache.ConnectRedis(cfg.RedisAddr); err != nil {
		log.Warn("redis unavailable, risk metrics cache disabled", zap.Error(err))
	} else {
		defer rdb.Close()
		metricsCache = riskcache.NewRedisCache(rdb, cfg.RiskCacheTTL)
	}

	engine := risk.New(log, risk.Config{
		Window: cfg.RiskWindow,
		Thresholds: risk.Thresholds{
			MediumLoss:   cfg.RiskLossMedium,
			HighLoss:     cfg.RiskLossHigh,
			CriticalLoss: cfg.RiskLossCritical,
		},
	}, store, metricsCache)

	// Producer de eventos transaction_recorded
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicTransactionRecorded)
	defer writer.Close()
	publ := producer.NewKafkaPublisher(writer)

	svc := service.New(log, store, signer, engine, service.Params{
		AmountCeiling: cfg.AmountCeiling,
		DefaultLimits: cfg.DefaultLimits,
	}, publ)

	aud := auditor.New(log, store, signer)
	api := lhttp.NewServer(log, svc, engine, aud)

	apiSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort, // ex: 8084
		Handler: api.Router(),
	}

	// Servidor de métricas e health check
	metrics.StartMetricsServer(log, cfg.MetricsPort, pg.PingContext)

	log.Info("api listening", zap.String("addr", apiSrv.Addr))
	if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("api srv", zap.Error(err))
	}
}
