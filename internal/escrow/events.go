package escrow

import "math/big"

// EventKind identifies one of the six event variants the contract emits.
type EventKind string

const (
	KindMetaEvidence EventKind = "meta_evidence"
	KindPayment      EventKind = "payment"
	KindHasToPayFee  EventKind = "has_to_pay_fee"
	KindDispute      EventKind = "dispute"
	KindEvidence     EventKind = "evidence"
	KindRuling       EventKind = "ruling"
)

// Kinds lists every event kind in emission-relevance order. The aggregator
// iterates this to fan out one query per kind.
var Kinds = []EventKind{
	KindMetaEvidence,
	KindPayment,
	KindHasToPayFee,
	KindDispute,
	KindEvidence,
	KindRuling,
}

// EventBase carries the fields common to every event variant.
// BlockNumber is the ordering key; LogIndex breaks ties within a block.
// Timestamp is 0 when the block header could not be resolved.
type EventBase struct {
	TransactionID uint64 `json:"transactionId"`
	BlockNumber   uint64 `json:"blockNumber"`
	BlockHash     string `json:"blockHash"`
	TxHash        string `json:"txHash"`
	LogIndex      uint   `json:"logIndex"`
	Timestamp     int64  `json:"timestamp"`
}

// Event is the closed union over the six variants. Raw log payloads are
// decoded into exactly one variant at the ledger boundary; downstream code
// type-switches exhaustively instead of poking at loosely typed fields.
type Event interface {
	Kind() EventKind
	Base() EventBase
}

// MetaEvidenceEvent announces the terms of the agreement (a content URI).
// Emitted once at transaction creation; its block timestamp is the best
// available creation time.
type MetaEvidenceEvent struct {
	EventBase
	MetaEvidenceID uint64 `json:"metaEvidenceId"`
	URI            string `json:"uri"`
}

func (e MetaEvidenceEvent) Kind() EventKind { return KindMetaEvidence }
func (e MetaEvidenceEvent) Base() EventBase { return e.EventBase }

// PaymentEvent records a partial payment or reimbursement.
type PaymentEvent struct {
	EventBase
	Amount *big.Int `json:"amount"`
	Party  string   `json:"party"`
}

func (e PaymentEvent) Kind() EventKind { return KindPayment }
func (e PaymentEvent) Base() EventBase { return e.EventBase }

// FeeParty identifies which side owes an arbitration fee.
type FeeParty string

const (
	FeePartySender   FeeParty = "sender"
	FeePartyReceiver FeeParty = "receiver"
)

// HasToPayFeeEvent signals that a party must pay its arbitration fee or
// forfeit by timeout.
type HasToPayFeeEvent struct {
	EventBase
	Party FeeParty `json:"party"`
}

func (e HasToPayFeeEvent) Kind() EventKind { return KindHasToPayFee }
func (e HasToPayFeeEvent) Base() EventBase { return e.EventBase }

// DisputeEvent records the creation of an arbitration case. The
// EvidenceGroupID equals the transaction ID in this contract family,
// which is how the event attributes itself to a transaction.
type DisputeEvent struct {
	EventBase
	DisputeID       uint64 `json:"disputeId"`
	Arbitrator      string `json:"arbitrator"`
	MetaEvidenceID  uint64 `json:"metaEvidenceId"`
	EvidenceGroupID uint64 `json:"evidenceGroupId"`
}

func (e DisputeEvent) Kind() EventKind { return KindDispute }
func (e DisputeEvent) Base() EventBase { return e.EventBase }

// EvidenceEvent records a party submitting evidence (a content URI).
type EvidenceEvent struct {
	EventBase
	Arbitrator      string `json:"arbitrator"`
	Party           string `json:"party"`
	URI             string `json:"uri"`
	EvidenceGroupID uint64 `json:"evidenceGroupId"`
}

func (e EvidenceEvent) Kind() EventKind { return KindEvidence }
func (e EvidenceEvent) Base() EventBase { return e.EventBase }

// RulingEvent records the arbitrator's final ruling. The log is keyed by
// dispute ID only; TransactionID is UnknownTransaction when the reverse
// dispute→transaction lookup could not resolve it.
type RulingEvent struct {
	EventBase
	DisputeID  uint64 `json:"disputeId"`
	Arbitrator string `json:"arbitrator"`
	Ruling     Ruling `json:"ruling"`
}

func (e RulingEvent) Kind() EventKind { return KindRuling }
func (e RulingEvent) Base() EventBase { return e.EventBase }

// withTransactionID returns a copy of ev with its transaction ID set.
// Used when attribution happens after decoding (ruling events resolved
// through the dispute index, or pinned by the caller's query).
func withTransactionID(ev Event, txID uint64) Event {
	switch e := ev.(type) {
	case MetaEvidenceEvent:
		e.TransactionID = txID
		return e
	case PaymentEvent:
		e.TransactionID = txID
		return e
	case HasToPayFeeEvent:
		e.TransactionID = txID
		return e
	case DisputeEvent:
		e.TransactionID = txID
		return e
	case EvidenceEvent:
		e.TransactionID = txID
		return e
	case RulingEvent:
		e.TransactionID = txID
		return e
	default:
		return ev
	}
}
