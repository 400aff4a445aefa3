package transaction

import (
	"sync"
	"time"
)

// ExchangerItem is one (uid, input, output) funds-flow row of a transaction's
// exchangers list (spec §3 "Transaction payload").
type ExchangerItem struct {
	UID    string `json:"uid"`
	Input  uint64 `json:"input"`
	Output uint64 `json:"output"`
}

// CurrencyStatItem is one entry of a payer-side coin inventory snapshot.
type CurrencyStatItem struct {
	ID     string `json:"id"`
	Amount uint64 `json:"amount"`
	Status string `json:"status"`
}

// CurrencyStat is the payer-side coin inventory snapshot attached to a
// payload via set_pay_currency_stat.
type CurrencyStat struct {
	Statistics []CurrencyStatItem `json:"statistics"`
}

// PeerCurrencyPlan is one (uid -> plan-item) row of a transaction's chosen
// currency plan. The plan item's internal shape is the currency-plan
// collaborator's concern (out of CORE scope, spec §1); it is carried here
// opaquely.
type PeerCurrencyPlan struct {
	UID  string      `json:"uid"`
	Item interface{} `json:"item"`
}

// Payload is the per-transaction in-memory state tracked by the payload
// manager, keyed primarily by tx_sm_id with a secondary (txid, uid) index
// (spec §3's data model, supplemented per the original's responder-side
// creation branch: IsTXSender distinguishes a locally-allocated txid from
// one supplied by the first inbound UDP packet).
type Payload struct {
	UID             string
	Txid            string
	TxSmID          uint64
	IsTXSender      bool
	IsPayer         bool
	Amount          uint64
	OppoUID         string
	Exchangers      []ExchangerItem
	PayCurrencyStat *CurrencyStat
	CurrencyPlan    []PeerCurrencyPlan

	lastUpdateTime int64 // monotonic ms since epoch, for idle eviction
}

type linkKey struct {
	txid string
	uid  string
}

// Manager owns the in-memory payload map and its secondary index. Exactly
// one actor (the transaction module) touches it, so a plain mutex is enough
// rather than channel-mediated access (spec §5 "shared-resource policy").
type Manager struct {
	mu      sync.Mutex
	bySmID  map[uint64]*Payload
	byLink  map[linkKey]uint64
	nowFunc func() int64
}

// NewManager builds an empty payload manager. nowFunc defaults to the
// current wall-clock time in milliseconds; tests may override it to control
// idle-eviction timing deterministically.
func NewManager(nowFunc func() int64) *Manager {
	if nowFunc == nil {
		nowFunc = func() int64 { return time.Now().UnixMilli() }
	}
	return &Manager{
		bySmID:  make(map[uint64]*Payload),
		byLink:  make(map[linkKey]uint64),
		nowFunc: nowFunc,
	}
}

// Create installs a new payload for tx_sm_id. If isTXSender, txid is
// allocated fresh; otherwise txid must be supplied by the caller (the
// responder path, where the first UDP packet carries the txid).
func (m *Manager) Create(uid string, txSmID uint64, isTXSender bool, txid string) (*Payload, error) {
	if isTXSender {
		generated, err := generateTXID()
		if err != nil {
			return nil, err
		}
		txid = generated
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p := &Payload{
		UID:            uid,
		Txid:           txid,
		TxSmID:         txSmID,
		IsTXSender:     isTXSender,
		Exchangers:     []ExchangerItem{},
		CurrencyPlan:   []PeerCurrencyPlan{},
		lastUpdateTime: m.nowFunc(),
	}
	m.bySmID[txSmID] = p
	m.byLink[linkKey{txid: txid, uid: uid}] = txSmID
	return p, nil
}

// SetPaymentPlan records the exchangers row and derives the role (payer or
// receiver) for uid, per spec §4.5's role-derivation rule.
func (m *Manager) SetPaymentPlan(txid, uid, oppoUID string, exchangers []ExchangerItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txSmID, ok := m.byLink[linkKey{txid: txid, uid: uid}]
	if !ok {
		return errMachineDestoryed
	}

	var userRow *ExchangerItem
	for i := range exchangers {
		if exchangers[i].UID == uid {
			userRow = &exchangers[i]
			break
		}
	}
	if userRow == nil {
		return errPaymentPlanNotForUser
	}

	isPayer := userRow.Output > userRow.Input
	var amount uint64
	if isPayer {
		amount = userRow.Output - userRow.Input
	} else {
		amount = userRow.Input - userRow.Output
	}

	p, ok := m.bySmID[txSmID]
	if !ok {
		return errMachineDestoryed
	}
	p.Exchangers = append(p.Exchangers, exchangers...)
	p.IsPayer = isPayer
	p.Amount = amount
	p.OppoUID = oppoUID
	p.lastUpdateTime = m.nowFunc()
	return nil
}

// SetPayCurrencyStat attaches a payer-side coin inventory snapshot.
func (m *Manager) SetPayCurrencyStat(txSmID uint64, stat *CurrencyStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bySmID[txSmID]
	if !ok {
		return errMachineDestoryed
	}
	p.PayCurrencyStat = stat
	p.lastUpdateTime = m.nowFunc()
	return nil
}

// SetCurrencyPlan appends peer plan rows to a payload's chosen currency plan.
func (m *Manager) SetCurrencyPlan(txSmID uint64, plan []PeerCurrencyPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bySmID[txSmID]
	if !ok {
		return errMachineDestoryed
	}
	p.CurrencyPlan = append(p.CurrencyPlan, plan...)
	p.lastUpdateTime = m.nowFunc()
	return nil
}

// Touch refreshes a payload's last-update time, used by the connection
// layer's recv_tx_msg notification to keep an active transaction alive.
func (m *Manager) Touch(txSmID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.bySmID[txSmID]; ok {
		p.lastUpdateTime = m.nowFunc()
	}
}

// Get looks up a payload by (txid, uid).
func (m *Manager) Get(txid, uid string) (*Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txSmID, ok := m.byLink[linkKey{txid: txid, uid: uid}]
	if !ok {
		return nil, errMachineDestoryed
	}
	p, ok := m.bySmID[txSmID]
	if !ok {
		return nil, errMachineDestoryed
	}
	cp := *p
	return &cp, nil
}

// GetBySmID looks up a payload by its machine-registry id.
func (m *Manager) GetBySmID(txSmID uint64) (*Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.bySmID[txSmID]
	if !ok {
		return nil, errMachineDestoryed
	}
	cp := *p
	return &cp, nil
}

// Close removes the payload from both maps. Idempotent (spec property #7,
// extended here to payload close as well as connection close).
func (m *Manager) Close(txid, uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := linkKey{txid: txid, uid: uid}
	if txSmID, ok := m.byLink[key]; ok {
		delete(m.bySmID, txSmID)
	}
	delete(m.byLink, key)
}

// idleEntry names one payload whose last_update_time is past the idle
// threshold, for the sweep's tx_close synthesis.
type idleEntry struct {
	uid  string
	txid string
}

// SweepIdle returns every (uid, txid) pair whose last_update_time is older
// than maxAgeMs, for the caller to synthesize a tx_close against (spec
// §4.5's run_close_check_task). It does not itself remove anything — the
// caller's tx_close call does that, keeping eviction and notification atomic
// from the caller's point of view.
func (m *Manager) SweepIdle(maxAgeMs int64) []idleEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	var idle []idleEntry
	for key, txSmID := range m.byLink {
		p, ok := m.bySmID[txSmID]
		if !ok {
			continue
		}
		if now-p.lastUpdateTime > maxAgeMs {
			idle = append(idle, idleEntry{uid: key.uid, txid: key.txid})
		}
	}
	return idle
}
