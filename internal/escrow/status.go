package escrow

// TransactionStatus is the domain status of an escrow transaction.
//
// Legal on-chain transitions:
//
//	NoDispute → WaitingSender|WaitingReceiver → DisputeCreated → Resolved
//	NoDispute → Resolved (timeout execution)
type TransactionStatus string

const (
	StatusNoDispute       TransactionStatus = "no_dispute"
	StatusWaitingSender   TransactionStatus = "waiting_sender"
	StatusWaitingReceiver TransactionStatus = "waiting_receiver"
	StatusDisputeCreated  TransactionStatus = "dispute_created"
	StatusResolved        TransactionStatus = "resolved"
)

// DisputeStatus is the arbitrator-reported lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeWaiting    DisputeStatus = "waiting"
	DisputeAppealable DisputeStatus = "appealable"
	DisputeSolved     DisputeStatus = "solved"
)

// Ruling is the arbitrator's decision on a dispute.
type Ruling string

const (
	RulingRefusedToRule Ruling = "refused_to_rule"
	RulingSenderWins    Ruling = "sender_wins"
	RulingReceiverWins  Ruling = "receiver_wins"
)

var statusByCode = map[uint8]TransactionStatus{
	0: StatusNoDispute,
	1: StatusWaitingSender,
	2: StatusWaitingReceiver,
	3: StatusDisputeCreated,
	4: StatusResolved,
}

// MapStatus maps a raw contract status code to its domain status.
// Codes outside the table map to StatusNoDispute; an unrecognized code is
// never an error, since contract upgrades may add codes this reader
// predates.
func MapStatus(code uint8) TransactionStatus {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return StatusNoDispute
}

var disputeStatusByCode = map[uint8]DisputeStatus{
	0: DisputeWaiting,
	1: DisputeAppealable,
	2: DisputeSolved,
}

// MapDisputeStatus maps an arbitrator status code to its domain value,
// falling back to DisputeWaiting for unknown codes.
func MapDisputeStatus(code uint8) DisputeStatus {
	if s, ok := disputeStatusByCode[code]; ok {
		return s
	}
	return DisputeWaiting
}

var rulingByCode = map[uint64]Ruling{
	0: RulingRefusedToRule,
	1: RulingSenderWins,
	2: RulingReceiverWins,
}

// MapRuling maps an arbitrator ruling code to its domain value, falling
// back to RulingRefusedToRule for unknown codes. Note the ambiguity: an
// unrecognized code is indistinguishable from a genuine refusal to rule.
func MapRuling(code uint64) Ruling {
	if r, ok := rulingByCode[code]; ok {
		return r
	}
	return RulingRefusedToRule
}
