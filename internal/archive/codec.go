package archive

import (
	"encoding/json"
	"fmt"

	"github.com/meridianlabs/escrowsync/internal/escrow"
)

// row is the storage shape of one event. The base fields are broken out
// into columns for querying; the variant-specific fields travel as a JSON
// payload keyed by kind.
//
// TransactionID is stored signed: the unattributed sentinel does not fit a
// BIGINT column, so it maps to -1.
type row struct {
	Kind          string
	TransactionID int64
	BlockNumber   uint64
	BlockHash     string
	TxHash        string
	LogIndex      uint
	Timestamp     int64
	Payload       []byte
}

const unattributedRow = int64(-1)

func encodeTxID(id uint64) int64 {
	if id == escrow.UnknownTransaction {
		return unattributedRow
	}
	return int64(id) // #nosec G115 -- contract transaction counts fit in int64
}

func decodeTxID(id int64) uint64 {
	if id == unattributedRow {
		return escrow.UnknownTransaction
	}
	return uint64(id)
}

// encodeEvent flattens an event into its storage row.
func encodeEvent(ev escrow.Event) (row, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return row{}, fmt.Errorf("archive: encode %s event: %w", ev.Kind(), err)
	}
	base := ev.Base()
	return row{
		Kind:          string(ev.Kind()),
		TransactionID: encodeTxID(base.TransactionID),
		BlockNumber:   base.BlockNumber,
		BlockHash:     base.BlockHash,
		TxHash:        base.TxHash,
		LogIndex:      base.LogIndex,
		Timestamp:     base.Timestamp,
		Payload:       payload,
	}, nil
}

// decodeEvent rebuilds the typed event from its storage row. Unknown kinds
// fail: they mean the archive was written by a newer build.
func decodeEvent(r row) (escrow.Event, error) {
	var ev escrow.Event
	var err error
	switch escrow.EventKind(r.Kind) {
	case escrow.KindMetaEvidence:
		var e escrow.MetaEvidenceEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case escrow.KindPayment:
		var e escrow.PaymentEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case escrow.KindHasToPayFee:
		var e escrow.HasToPayFeeEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case escrow.KindDispute:
		var e escrow.DisputeEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case escrow.KindEvidence:
		var e escrow.EvidenceEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	case escrow.KindRuling:
		var e escrow.RulingEvent
		err = json.Unmarshal(r.Payload, &e)
		ev = e
	default:
		return nil, fmt.Errorf("archive: unknown event kind %q", r.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("archive: decode %s event: %w", r.Kind, err)
	}
	return ev, nil
}
