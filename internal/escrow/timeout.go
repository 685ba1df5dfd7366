package escrow

// Timeout policy: pure arithmetic over a snapshot and an explicit clock.
// Callers sample "now" themselves so a single query sees one consistent
// instant, and so tests stay deterministic.
//
// All comparisons are inclusive: the boundary instant itself is eligible,
// matching the contract's own `>=` checks. Do not change this to `>`.

// TimeoutEligibility reports which party may invoke the fee timeout.
type TimeoutEligibility struct {
	SenderCanTimeOut   bool `json:"senderCanTimeOut"`
	ReceiverCanTimeOut bool `json:"receiverCanTimeOut"`
}

// CanExecute reports whether the escrowed payment may be executed outright:
// no dispute ever raised and the payment timeout has elapsed since the
// last interaction. now is unix seconds.
func CanExecute(snap *TransactionSnapshot, now int64) bool {
	if MapStatus(snap.RawStatus) != StatusNoDispute {
		return false
	}
	return now-int64(snap.LastInteraction) >= int64(snap.TimeoutPayment)
}

// CanTimeOut reports per-party fee-timeout eligibility. A party may time
// the other party out only while the contract is waiting on that other
// party's arbitration fee and the fee timeout has elapsed. At most one of
// the two flags is ever true. now and feeTimeout are whole seconds.
func CanTimeOut(snap *TransactionSnapshot, now, feeTimeout int64) TimeoutEligibility {
	elapsed := now - int64(snap.LastInteraction)
	if elapsed < feeTimeout {
		return TimeoutEligibility{}
	}

	switch MapStatus(snap.RawStatus) {
	case StatusWaitingReceiver:
		return TimeoutEligibility{SenderCanTimeOut: true}
	case StatusWaitingSender:
		return TimeoutEligibility{ReceiverCanTimeOut: true}
	default:
		return TimeoutEligibility{}
	}
}
