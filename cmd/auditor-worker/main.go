package main

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/ledger-core/internal/auditor"
	lrepo "github.com/radieske/ledger-core/internal/ledger-service/repo"
	"github.com/radieske/ledger-core/internal/ledger-service/sign"
	"github.com/radieske/ledger-core/internal/shared/config"
	"github.com/radieske/ledger-core/internal/shared/db"
	"github.com/radieske/ledger-core/internal/shared/kafka"
	"github.com/radieske/ledger-core/internal/shared/logger"
	"github.com/radieske/ledger-core/internal/shared/metrics"
	ev "github.com/radieske/ledger-core/pkg/contracts/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New("auditor-worker", cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Leitura independente do caminho de escrita: o auditor só consulta
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("pg connect", zap.Error(err))
	}
	defer pg.Close()
	store := lrepo.NewPostgres(pg)

	signer, err := sign.New(cfg.SigningKey)
	if err != nil {
		log.Fatal("signer init", zap.Error(err))
	}

	aud := auditor.New(log, store, signer)

	// Producer de alertas de integridade
	alertWriter := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicIntegrityAlerts)
	defer alertWriter.Close()

	metrics.StartMetricsServer(log, cfg.MetricsPort, pg.PingContext)

	log.Info("auditor-worker started",
		zap.Duration("interval", cfg.AuditInterval),
		zap.Duration("lookback", cfg.AuditLookback),
	)

	ctx := context.Background()
	ticker := time.NewTicker(cfg.AuditInterval)
	defer ticker.Stop()

	// Primeira varredura imediata; depois uma por tick
	sweep(ctx, log, aud, alertWriter, cfg.AuditLookback)
	for range ticker.C {
		sweep(ctx, log, aud, alertWriter, cfg.AuditLookback)
	}
}

// sweep audita todas as contas ativas na janela e publica um alerta por achado
func sweep(ctx context.Context, log *zap.Logger, aud *auditor.Auditor, w *kafkago.Writer, lookback time.Duration) {
	to := time.Now().UTC()
	from := to.Add(-lookback)

	findings, err := aud.SweepWindow(ctx, from, to)
	if err != nil {
		log.Error("sweep window", zap.Error(err))
		return
	}
	if len(findings) == 0 {
		log.Info("sweep clean", zap.Time("from", from), zap.Time("to", to))
		return
	}

	log.Warn("integrity findings", zap.Int("count", len(findings)))
	for _, f := range findings {
		alert := ev.IntegrityAlert{
			AccountID:     f.AccountID,
			TransactionID: f.TransactionID,
			Kind:          f.Kind,
			Detail:        f.Detail,
			TsUnixMs:      time.Now().UnixMilli(),
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			log.Error("marshal alert", zap.Error(err))
			continue
		}
		if err := kafka.WriteJSON(ctx, w, f.AccountID, payload); err != nil {
			log.Error("publish alert",
				zap.String("accountId", f.AccountID),
				zap.String("kind", f.Kind),
				zap.Error(err),
			)
		}
	}
}
