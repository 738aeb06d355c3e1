package ledger

import (
	"context"
	"sort"
	"sync"
)

type memState struct {
	accounts map[CustomerID]Account
	entries  []Entry
	attempts map[AttemptID]PaymentAttempt
	visits   map[VisitRequestID]VisitRequest
	refunds  map[RefundRequestID]RefundRequest
}

func (state *memState) clone() *memState {
	cloned := &memState{
		accounts: make(map[CustomerID]Account, len(state.accounts)),
		entries:  append([]Entry(nil), state.entries...),
		attempts: make(map[AttemptID]PaymentAttempt, len(state.attempts)),
		visits:   make(map[VisitRequestID]VisitRequest, len(state.visits)),
		refunds:  make(map[RefundRequestID]RefundRequest, len(state.refunds)),
	}
	for key, value := range state.accounts {
		cloned.accounts[key] = value
	}
	for key, value := range state.attempts {
		cloned.attempts[key] = value
	}
	for key, value := range state.visits {
		cloned.visits[key] = value
	}
	for key, value := range state.refunds {
		cloned.refunds[key] = value
	}
	return cloned
}

// memStore serializes transactions behind one mutex and commits a copy of the state on success.
type memStore struct {
	mutex    *sync.Mutex
	root     *memStore
	state    *memState
	inTx     bool
	failures map[string]error
}

func newMemStore() *memStore {
	store := &memStore{
		mutex: &sync.Mutex{},
		state: &memState{
			accounts: map[CustomerID]Account{},
			attempts: map[AttemptID]PaymentAttempt{},
			visits:   map[VisitRequestID]VisitRequest{},
			refunds:  map[RefundRequestID]RefundRequest{},
		},
		failures: map[string]error{},
	}
	store.root = store
	return store
}

func (store *memStore) failOn(method string, err error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.failures[method] = err
}

func (store *memStore) guard(method string) (func(), error) {
	unlock := func() {}
	if !store.inTx {
		store.mutex.Lock()
		unlock = store.mutex.Unlock
	}
	if err := store.root.failures[method]; err != nil {
		unlock()
		return func() {}, err
	}
	return unlock, nil
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	transactionStore := &memStore{
		mutex: store.mutex,
		root:  store.root,
		state: store.state.clone(),
		inTx:  true,
	}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	*store.state = *transactionStore.state
	return nil
}

func (store *memStore) CreateAccount(ctx context.Context, customerID CustomerID, createdUnixUTC int64) error {
	unlock, err := store.guard("CreateAccount")
	if err != nil {
		return err
	}
	defer unlock()
	if _, exists := store.state.accounts[customerID]; exists {
		return nil
	}
	store.state.accounts[customerID] = Account{CustomerID: customerID, CreatedUnixUTC: createdUnixUTC, UpdatedUnixUTC: createdUnixUTC}
	return nil
}

func (store *memStore) LockAccount(ctx context.Context, customerID CustomerID) (Account, error) {
	return store.GetAccount(ctx, customerID)
}

func (store *memStore) GetAccount(ctx context.Context, customerID CustomerID) (Account, error) {
	unlock, err := store.guard("GetAccount")
	if err != nil {
		return Account{}, err
	}
	defer unlock()
	account, exists := store.state.accounts[customerID]
	if !exists {
		return Account{}, ErrUnknownCustomer
	}
	return account, nil
}

func (store *memStore) UpdateAccountBalance(ctx context.Context, customerID CustomerID, balance SignedAmount, lastSequence int64, updatedUnixUTC int64) error {
	unlock, err := store.guard("UpdateAccountBalance")
	if err != nil {
		return err
	}
	defer unlock()
	account, exists := store.state.accounts[customerID]
	if !exists {
		return ErrUnknownCustomer
	}
	account.Balance = balance
	account.LastSequence = lastSequence
	account.UpdatedUnixUTC = updatedUnixUTC
	store.state.accounts[customerID] = account
	return nil
}

func (store *memStore) ListAccounts(ctx context.Context) ([]Account, error) {
	unlock, err := store.guard("ListAccounts")
	if err != nil {
		return nil, err
	}
	defer unlock()
	accounts := make([]Account, 0, len(store.state.accounts))
	for _, account := range store.state.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].CustomerID.String() < accounts[right].CustomerID.String()
	})
	return accounts, nil
}

func (store *memStore) InsertEntry(ctx context.Context, entry Entry) error {
	unlock, err := store.guard("InsertEntry")
	if err != nil {
		return err
	}
	defer unlock()
	for _, existing := range store.state.entries {
		if existing.CustomerID != entry.CustomerID {
			continue
		}
		if existing.Sequence == entry.Sequence {
			return ErrDuplicateEntry
		}
		if existing.Type == entry.Type && existing.ReferenceID == entry.ReferenceID {
			return ErrDuplicateEntry
		}
	}
	store.state.entries = append(store.state.entries, entry)
	return nil
}

func (store *memStore) SumEntries(ctx context.Context, customerID CustomerID) (SignedAmount, error) {
	unlock, err := store.guard("SumEntries")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var total SignedAmount
	for _, entry := range store.state.entries {
		if entry.CustomerID == customerID {
			total += entry.Amount
		}
	}
	return total, nil
}

func (store *memStore) ListEntries(ctx context.Context, customerID CustomerID, beforeSequence int64, limit int) ([]Entry, error) {
	unlock, err := store.guard("ListEntries")
	if err != nil {
		return nil, err
	}
	defer unlock()
	entries := make([]Entry, 0)
	for _, entry := range store.state.entries {
		if entry.CustomerID != customerID {
			continue
		}
		if beforeSequence > 0 && entry.Sequence >= beforeSequence {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(left, right int) bool {
		return entries[left].Sequence > entries[right].Sequence
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (store *memStore) CreateAttempt(ctx context.Context, attempt PaymentAttempt) error {
	unlock, err := store.guard("CreateAttempt")
	if err != nil {
		return err
	}
	defer unlock()
	if openKey := attempt.OpenKey(); openKey != "" {
		for _, existing := range store.state.attempts {
			if existing.OpenKey() == openKey {
				return ErrConcurrentAttemptExists
			}
		}
	}
	store.state.attempts[attempt.AttemptID] = attempt
	return nil
}

func (store *memStore) GetAttempt(ctx context.Context, attemptID AttemptID) (PaymentAttempt, error) {
	unlock, err := store.guard("GetAttempt")
	if err != nil {
		return PaymentAttempt{}, err
	}
	defer unlock()
	attempt, exists := store.state.attempts[attemptID]
	if !exists {
		return PaymentAttempt{}, ErrUnknownAttempt
	}
	return attempt, nil
}

func (store *memStore) FindOpenAttempt(ctx context.Context, customerID CustomerID, targetID TargetID) (PaymentAttempt, error) {
	unlock, err := store.guard("FindOpenAttempt")
	if err != nil {
		return PaymentAttempt{}, err
	}
	defer unlock()
	openKey := OpenAttemptKey(customerID, targetID)
	for _, attempt := range store.state.attempts {
		if attempt.OpenKey() == openKey {
			return attempt, nil
		}
	}
	return PaymentAttempt{}, ErrUnknownAttempt
}

func (store *memStore) UpdateAttempt(ctx context.Context, attempt PaymentAttempt, from AttemptState) error {
	unlock, err := store.guard("UpdateAttempt")
	if err != nil {
		return err
	}
	defer unlock()
	existing, exists := store.state.attempts[attempt.AttemptID]
	if !exists || existing.State != from {
		return ErrAttemptClosed
	}
	store.state.attempts[attempt.AttemptID] = attempt
	return nil
}

func (store *memStore) CreateVisitRequest(ctx context.Context, visit VisitRequest) error {
	unlock, err := store.guard("CreateVisitRequest")
	if err != nil {
		return err
	}
	defer unlock()
	for _, existing := range store.state.visits {
		if existing.PaymentAttemptID == visit.PaymentAttemptID {
			return ErrVisitRequestExists
		}
	}
	store.state.visits[visit.RequestID] = visit
	return nil
}

func (store *memStore) GetVisitRequest(ctx context.Context, requestID VisitRequestID) (VisitRequest, error) {
	unlock, err := store.guard("GetVisitRequest")
	if err != nil {
		return VisitRequest{}, err
	}
	defer unlock()
	visit, exists := store.state.visits[requestID]
	if !exists {
		return VisitRequest{}, ErrUnknownVisitRequest
	}
	return visit, nil
}

func (store *memStore) UpdateVisitRequest(ctx context.Context, visit VisitRequest, from VisitOutcome) error {
	unlock, err := store.guard("UpdateVisitRequest")
	if err != nil {
		return err
	}
	defer unlock()
	existing, exists := store.state.visits[visit.RequestID]
	if !exists || existing.Outcome != from {
		return ErrAlreadyFinalized
	}
	store.state.visits[visit.RequestID] = visit
	return nil
}

func (store *memStore) ListPendingVisitRequests(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]VisitRequest, error) {
	unlock, err := store.guard("ListPendingVisitRequests")
	if err != nil {
		return nil, err
	}
	defer unlock()
	visits := make([]VisitRequest, 0)
	for _, visit := range store.state.visits {
		if visit.Outcome == VisitOutcomePending && visit.CreatedUnixUTC < createdBeforeUnixUTC {
			visits = append(visits, visit)
		}
	}
	sort.Slice(visits, func(left, right int) bool {
		return visits[left].CreatedUnixUTC < visits[right].CreatedUnixUTC
	})
	if len(visits) > limit {
		visits = visits[:limit]
	}
	return visits, nil
}

func (store *memStore) CreateRefundRequest(ctx context.Context, refund RefundRequest) error {
	unlock, err := store.guard("CreateRefundRequest")
	if err != nil {
		return err
	}
	defer unlock()
	store.state.refunds[refund.RequestID] = refund
	return nil
}

func (store *memStore) GetRefundRequest(ctx context.Context, requestID RefundRequestID) (RefundRequest, error) {
	unlock, err := store.guard("GetRefundRequest")
	if err != nil {
		return RefundRequest{}, err
	}
	defer unlock()
	refund, exists := store.state.refunds[requestID]
	if !exists {
		return RefundRequest{}, ErrUnknownRefundRequest
	}
	return refund, nil
}

func (store *memStore) UpdateRefundRequest(ctx context.Context, refund RefundRequest, from RefundStatus) error {
	unlock, err := store.guard("UpdateRefundRequest")
	if err != nil {
		return err
	}
	defer unlock()
	existing, exists := store.state.refunds[refund.RequestID]
	if !exists || existing.Status != from {
		return ErrAlreadyDecided
	}
	store.state.refunds[refund.RequestID] = refund
	return nil
}

func (store *memStore) ListRefundRequests(ctx context.Context, status RefundStatus, limit int) ([]RefundRequest, error) {
	unlock, err := store.guard("ListRefundRequests")
	if err != nil {
		return nil, err
	}
	defer unlock()
	refunds := make([]RefundRequest, 0)
	for _, refund := range store.state.refunds {
		if status == "" || refund.Status == status {
			refunds = append(refunds, refund)
		}
	}
	sort.Slice(refunds, func(left, right int) bool {
		if refunds[left].CreatedUnixUTC == refunds[right].CreatedUnixUTC {
			return refunds[left].RequestID.String() < refunds[right].RequestID.String()
		}
		return refunds[left].CreatedUnixUTC < refunds[right].CreatedUnixUTC
	})
	if len(refunds) > limit {
		refunds = refunds[:limit]
	}
	return refunds, nil
}

func (store *memStore) attempt(attemptID AttemptID) PaymentAttempt {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.attempts[attemptID]
}

func (store *memStore) account(customerID CustomerID) Account {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.state.accounts[customerID]
}

func (store *memStore) entryCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.state.entries)
}
