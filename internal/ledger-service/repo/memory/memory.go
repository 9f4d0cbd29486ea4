package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/ledger-core/internal/ledger-service/domain"
)

// Store é a implementação em memória da persistência do ledger, usada em
// testes. Reproduz as garantias do Postgres que importam para o core:
// lock exclusivo por conta (respeitando cancelamento via ctx antes da
// aquisição), escrita atômica por commit e unique constraint de
// (account_id, idempotency_key).
type Store struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	txs      map[string]domain.Transaction
	order    map[string][]string // ids em ordem de commit, por conta
	idem     map[string]string   // (conta, chave) -> tx id
	limits   map[string]domain.LimitConfiguration
	audit    []domain.AuditLogEntry
	locks    map[string]chan struct{} // cap 1: lock de linha por conta
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]domain.Account),
		txs:      make(map[string]domain.Transaction),
		order:    make(map[string][]string),
		idem:     make(map[string]string),
		limits:   make(map[string]domain.LimitConfiguration),
		locks:    make(map[string]chan struct{}),
	}
}

func idemIndex(accountID, key string) string { return accountID + "\x00" + key }

func (s *Store) lockChan(accountID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[accountID] = ch
	}
	return ch
}

func (s *Store) CreateAccount(_ context.Context, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("account %s already exists", acc.ID)
	}
	s.accounts[acc.ID] = *acc
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	out := acc
	return &out, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txs[id]
	if !ok {
		return nil, nil
	}
	out := t
	return &out, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID string) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(accountID), nil
}

func (s *Store) listLocked(accountID string) []domain.Transaction {
	ids := s.order[accountID]
	out := make([]domain.Transaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.txs[id])
	}
	return out
}

func (s *Store) FindByIdempotencyKey(_ context.Context, accountID, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findIdemLocked(accountID, key), nil
}

func (s *Store) findIdemLocked(accountID, key string) *domain.Transaction {
	id, ok := s.idem[idemIndex(accountID, key)]
	if !ok {
		return nil
	}
	t := s.txs[id]
	return &t
}

func (s *Store) GetLimits(_ context.Context, accountID string) (*domain.LimitConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lim, ok := s.limits[accountID]
	if !ok {
		return nil, nil
	}
	out := lim
	return &out, nil
}

func (s *Store) SaveLimits(_ context.Context, lim *domain.LimitConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[lim.AccountID] = *lim
	return nil
}

func (s *Store) AppendAudit(_ context.Context, entry *domain.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}

// AuditEntries expõe a trilha gravada, em ordem de append.
func (s *Store) AuditEntries() []domain.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLogEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// Tamper altera uma transação gravada, simulando corrupção no storage.
// Existe só para exercitar o auditor em testes.
func (s *Store) Tamper(id string, mutate func(*domain.Transaction)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[id]
	if !ok {
		return false
	}
	mutate(&t)
	s.txs[id] = t
	return true
}

// SumAmounts soma valores absolutos por tipo desde o corte (leitura direta,
// fora de transação).
func (s *Store) SumAmounts(_ context.Context, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumLocked(accountID, types, since), nil
}

func (s *Store) sumLocked(accountID string, types []domain.TransactionType, since time.Time) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range s.order[accountID] {
		t := s.txs[id]
		if t.CreatedAt.Before(since) {
			continue
		}
		for _, tt := range types {
			if t.Type == tt {
				sum = sum.Add(t.Amount.Abs())
				break
			}
		}
	}
	return sum
}

func (s *Store) LastTransactionAt(_ context.Context, accountID string, ttype domain.TransactionType) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLocked(accountID, ttype)
}

func (s *Store) lastLocked(accountID string, ttype domain.TransactionType) (time.Time, bool, error) {
	ids := s.order[accountID]
	for i := len(ids) - 1; i >= 0; i-- {
		if t := s.txs[ids[i]]; t.Type == ttype {
			return t.CreatedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// AccountHistory devolve a conta e suas transações num snapshot consistente
// (caminho de leitura do auditor; não toca o lock de escrita).
func (s *Store) AccountHistory(_ context.Context, accountID string) (*domain.Account, []domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, nil, domain.ErrAccountNotFound
	}
	out := acc
	return &out, s.listLocked(accountID), nil
}

// ActiveAccountIDs lista contas com alguma transação na janela.
func (s *Store) ActiveAccountIDs(_ context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for accountID, ids := range s.order {
		for _, id := range ids {
			at := s.txs[id].CreatedAt
			if !at.Before(from) && !at.After(to) {
				out = append(out, accountID)
				break
			}
		}
	}
	return out, nil
}

// Tx é a unidade atômica em memória: segura o lock da conta do início ao
// commit/rollback e aplica as escritas preparadas de uma vez só.
type Tx struct {
	s         *Store
	lockedID  string
	stagedTx  *domain.Transaction
	stagedAcc *domain.Account
	stagedLim *domain.LimitConfiguration
	done      bool
}

func (s *Store) Begin(_ context.Context) (domain.AccountTx, error) {
	return &Tx{s: s}, nil
}

// LockAccount adquire o lock exclusivo da conta. Cancelamento via ctx só
// vale aqui; adquirido o lock, a operação corre até commit ou rollback.
func (t *Tx) LockAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if t.lockedID != "" {
		return nil, fmt.Errorf("account %s already locked in this tx", t.lockedID)
	}
	ch := t.s.lockChan(accountID)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.lockedID = accountID

	t.s.mu.RLock()
	acc, ok := t.s.accounts[accountID]
	t.s.mu.RUnlock()
	if !ok {
		t.release()
		t.done = true
		return nil, domain.ErrAccountNotFound
	}
	out := acc
	return &out, nil
}

func (t *Tx) FindByIdempotencyKey(_ context.Context, accountID, key string) (*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.findIdemLocked(accountID, key), nil
}

func (t *Tx) SumAmounts(_ context.Context, accountID string, types []domain.TransactionType, since time.Time) (decimal.Decimal, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.sumLocked(accountID, types, since), nil
}

func (t *Tx) LastTransactionAt(_ context.Context, accountID string, ttype domain.TransactionType) (time.Time, bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.lastLocked(accountID, ttype)
}

func (t *Tx) InsertTransaction(_ context.Context, tx *domain.Transaction) error {
	if tx.IdempotencyKey != "" {
		t.s.mu.RLock()
		_, exists := t.s.idem[idemIndex(tx.AccountID, tx.IdempotencyKey)]
		t.s.mu.RUnlock()
		if exists {
			return domain.ErrIdempotencyConflict
		}
	}
	staged := *tx
	t.stagedTx = &staged
	return nil
}

func (t *Tx) UpdateAccount(_ context.Context, acc *domain.Account) error {
	staged := *acc
	t.stagedAcc = &staged
	return nil
}

func (t *Tx) SaveLimits(_ context.Context, lim *domain.LimitConfiguration) error {
	staged := *lim
	t.stagedLim = &staged
	return nil
}

func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	defer t.release()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if t.stagedTx != nil && t.stagedTx.IdempotencyKey != "" {
		if _, exists := t.s.idem[idemIndex(t.stagedTx.AccountID, t.stagedTx.IdempotencyKey)]; exists {
			return domain.ErrIdempotencyConflict
		}
	}

	if t.stagedTx != nil {
		t.s.txs[t.stagedTx.ID] = *t.stagedTx
		t.s.order[t.stagedTx.AccountID] = append(t.s.order[t.stagedTx.AccountID], t.stagedTx.ID)
		if t.stagedTx.IdempotencyKey != "" {
			t.s.idem[idemIndex(t.stagedTx.AccountID, t.stagedTx.IdempotencyKey)] = t.stagedTx.ID
		}
	}
	if t.stagedAcc != nil {
		t.s.accounts[t.stagedAcc.ID] = *t.stagedAcc
	}
	if t.stagedLim != nil {
		t.s.limits[t.stagedLim.AccountID] = *t.stagedLim
	}
	return nil
}

func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.release()
	return nil
}

func (t *Tx) release() {
	if t.lockedID == "" {
		return
	}
	ch := t.s.lockChan(t.lockedID)
	<-ch
	t.lockedID = ""
}
