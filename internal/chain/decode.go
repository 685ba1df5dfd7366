package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/meridianlabs/escrowsync/internal/escrow"
)

// decodeLog turns one raw log into exactly one event variant, or fails. No
// partially decoded event ever leaves this package.
func (c *Client) decodeLog(ctx context.Context, lg types.Log) (escrow.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	kind, ok := kindBySig[lg.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("unrecognized event signature %s", lg.Topics[0].Hex())
	}

	base := escrow.EventBase{
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash.Hex(),
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		Timestamp:   c.blockTime(ctx, lg.BlockNumber),
	}

	switch kind {
	case escrow.KindMetaEvidence:
		return decodeMetaEvidence(base, lg)
	case escrow.KindPayment:
		return decodePayment(base, lg)
	case escrow.KindHasToPayFee:
		return decodeHasToPayFee(base, lg)
	case escrow.KindDispute:
		return decodeDispute(base, lg)
	case escrow.KindEvidence:
		return decodeEvidence(base, lg)
	case escrow.KindRuling:
		return decodeRuling(base, lg)
	default:
		return nil, fmt.Errorf("no decoder for kind %q", kind)
	}
}

func topicUint64(lg types.Log, i int) (uint64, error) {
	if len(lg.Topics) <= i {
		return 0, fmt.Errorf("missing indexed topic %d", i)
	}
	return lg.Topics[i].Big().Uint64(), nil
}

func topicAddress(lg types.Log, i int) (string, error) {
	if len(lg.Topics) <= i {
		return "", fmt.Errorf("missing indexed topic %d", i)
	}
	return common.BytesToAddress(lg.Topics[i].Bytes()).Hex(), nil
}

func decodeMetaEvidence(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	id, err := topicUint64(lg, 1)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("MetaEvidence", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack MetaEvidence: %w", err)
	}
	uri, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("MetaEvidence: bad evidence field")
	}
	// The contract emits MetaEvidence with the transaction ID as the
	// meta-evidence ID.
	base.TransactionID = id
	return escrow.MetaEvidenceEvent{EventBase: base, MetaEvidenceID: id, URI: uri}, nil
}

func decodePayment(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	txID, err := topicUint64(lg, 1)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("Payment", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack Payment: %w", err)
	}
	amount, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Payment: bad amount field")
	}
	party, ok := vals[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("Payment: bad party field")
	}
	base.TransactionID = txID
	return escrow.PaymentEvent{EventBase: base, Amount: amount, Party: party.Hex()}, nil
}

func decodeHasToPayFee(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	txID, err := topicUint64(lg, 1)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("HasToPayFee", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack HasToPayFee: %w", err)
	}
	code, ok := vals[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("HasToPayFee: bad party field")
	}
	party := escrow.FeePartySender
	if code == 1 {
		party = escrow.FeePartyReceiver
	} else if code > 1 {
		return nil, fmt.Errorf("HasToPayFee: party code %d out of range", code)
	}
	base.TransactionID = txID
	return escrow.HasToPayFeeEvent{EventBase: base, Party: party}, nil
}

func decodeDispute(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	arb, err := topicAddress(lg, 1)
	if err != nil {
		return nil, err
	}
	disputeID, err := topicUint64(lg, 2)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("Dispute", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack Dispute: %w", err)
	}
	metaID, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Dispute: bad metaEvidenceID field")
	}
	groupID, ok := vals[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Dispute: bad evidenceGroupID field")
	}
	// The evidence group ID doubles as the transaction ID, which is what
	// lets a dispute event attribute itself without a reverse lookup.
	base.TransactionID = groupID.Uint64()
	return escrow.DisputeEvent{
		EventBase:       base,
		DisputeID:       disputeID,
		Arbitrator:      arb,
		MetaEvidenceID:  metaID.Uint64(),
		EvidenceGroupID: groupID.Uint64(),
	}, nil
}

func decodeEvidence(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	arb, err := topicAddress(lg, 1)
	if err != nil {
		return nil, err
	}
	groupID, err := topicUint64(lg, 2)
	if err != nil {
		return nil, err
	}
	party, err := topicAddress(lg, 3)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("Evidence", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack Evidence: %w", err)
	}
	uri, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("Evidence: bad evidence field")
	}
	base.TransactionID = groupID
	return escrow.EvidenceEvent{
		EventBase:       base,
		Arbitrator:      arb,
		Party:           party,
		URI:             uri,
		EvidenceGroupID: groupID,
	}, nil
}

func decodeRuling(base escrow.EventBase, lg types.Log) (escrow.Event, error) {
	arb, err := topicAddress(lg, 1)
	if err != nil {
		return nil, err
	}
	disputeID, err := topicUint64(lg, 2)
	if err != nil {
		return nil, err
	}
	vals, err := escrowABI.Unpack("Ruling", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack Ruling: %w", err)
	}
	ruling, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("Ruling: bad ruling field")
	}
	// Ruling logs carry no transaction key; attribution happens upstream
	// via the dispute index or the caller's own query context.
	base.TransactionID = escrow.UnknownTransaction
	return escrow.RulingEvent{
		EventBase:  base,
		DisputeID:  disputeID,
		Arbitrator: arb,
		Ruling:     escrow.MapRuling(ruling.Uint64()),
	}, nil
}
