package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
	"github.com/radieske/ledger-core/pkg/contracts/events"
)

// KafkaPublisher emite eventos pós-commit do ledger. Melhor esforço:
// o chamador loga falhas, nunca desfaz o commit.
type KafkaPublisher struct {
	Writer *kafka.Writer
}

func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{Writer: w}
}

func (p *KafkaPublisher) TransactionRecorded(ctx context.Context, t *domain.Transaction) error {
	e := events.TransactionRecorded{
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Type:          string(t.Type),
		Amount:        t.Amount.StringFixed(2),
		BalanceAfter:  t.BalanceAfter.StringFixed(2),
		Actor:         t.CreatedBy,
		TsUnixMs:      time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(e)
	return p.Writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.AccountID), Value: b})
}
