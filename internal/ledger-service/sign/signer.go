package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Signer calcula e verifica o MAC (HMAC-SHA256) sobre a serialização
// canônica dos campos de cada transação. A chave é estado secreto do
// processo, carregada uma vez no startup e nunca logada.
type Signer struct {
	key []byte
}

var ErrEmptyKey = errors.New("signing key must not be empty")

// New cria o Signer; chave vazia é defeito de configuração e deve ser
// fatal no startup, não um erro adiado.
func New(key string) (*Signer, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	return &Signer{key: []byte(key)}, nil
}

// canonical monta a serialização estável assinada: qualquer mudança aqui
// invalida todas as assinaturas já gravadas.
func canonical(t *domain.Transaction) string {
	return strings.Join([]string{
		t.AccountID,
		string(t.Type),
		t.Amount.StringFixed(2),
		t.BalanceBefore.StringFixed(2),
		t.BalanceAfter.StringFixed(2),
		t.IdempotencyKey,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, "|")
}

// SignTransaction devolve o MAC hex dos campos da transação.
func (s *Signer) SignTransaction(t *domain.Transaction) (string, error) {
	if len(s.key) == 0 {
		return "", ErrEmptyKey
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(canonical(t)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyTransaction recomputa o MAC e compara em tempo constante com a
// assinatura gravada.
func (s *Signer) VerifyTransaction(t *domain.Transaction) bool {
	expected, err := s.SignTransaction(t)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(t.Signature))
}
