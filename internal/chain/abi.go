package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/meridianlabs/escrowsync/internal/escrow"
)

// Minimal ABI for the arbitrable escrow contract: the transaction getters
// the reconciler reads and the six events it decodes. Enum parameters are
// uint8 on the wire.
const escrowABIJSON = `[
	{"constant":true,"inputs":[{"name":"","type":"uint256"}],"name":"transactions","outputs":[{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"amount","type":"uint256"},{"name":"timeoutPayment","type":"uint256"},{"name":"disputeId","type":"uint256"},{"name":"senderFee","type":"uint256"},{"name":"receiverFee","type":"uint256"},{"name":"lastInteraction","type":"uint256"},{"name":"status","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"getCountTransactions","outputs":[{"name":"count","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"arbitrator","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"arbitratorExtraData","outputs":[{"name":"","type":"bytes"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"feeTimeout","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_metaEvidenceID","type":"uint256"},{"indexed":false,"name":"_evidence","type":"string"}],"name":"MetaEvidence","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_transactionID","type":"uint256"},{"indexed":false,"name":"_amount","type":"uint256"},{"indexed":false,"name":"_party","type":"address"}],"name":"Payment","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_transactionID","type":"uint256"},{"indexed":false,"name":"_party","type":"uint8"}],"name":"HasToPayFee","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_arbitrator","type":"address"},{"indexed":true,"name":"_disputeID","type":"uint256"},{"indexed":false,"name":"_metaEvidenceID","type":"uint256"},{"indexed":false,"name":"_evidenceGroupID","type":"uint256"}],"name":"Dispute","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_arbitrator","type":"address"},{"indexed":true,"name":"_evidenceGroupID","type":"uint256"},{"indexed":true,"name":"_party","type":"address"},{"indexed":false,"name":"_evidence","type":"string"}],"name":"Evidence","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"_arbitrator","type":"address"},{"indexed":true,"name":"_disputeID","type":"uint256"},{"indexed":false,"name":"_ruling","type":"uint256"}],"name":"Ruling","type":"event"}
]`

// Minimal ABI for the arbitrator contract: read-only dispute probes.
const arbitratorABIJSON = `[
	{"constant":true,"inputs":[{"name":"_disputeID","type":"uint256"}],"name":"disputeStatus","outputs":[{"name":"status","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_disputeID","type":"uint256"}],"name":"currentRuling","outputs":[{"name":"ruling","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_disputeID","type":"uint256"}],"name":"appealPeriod","outputs":[{"name":"start","type":"uint256"},{"name":"end","type":"uint256"}],"type":"function"}
]`

var (
	escrowABI     abi.ABI
	arbitratorABI abi.ABI

	// eventName maps each decoded kind to its solidity event name, and
	// kindBySig the reverse mapping from topic0.
	eventName = map[escrow.EventKind]string{
		escrow.KindMetaEvidence: "MetaEvidence",
		escrow.KindPayment:      "Payment",
		escrow.KindHasToPayFee:  "HasToPayFee",
		escrow.KindDispute:      "Dispute",
		escrow.KindEvidence:     "Evidence",
		escrow.KindRuling:       "Ruling",
	}
	kindBySig map[common.Hash]escrow.EventKind
)

func init() {
	var err error
	escrowABI, err = abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic("chain: parse escrow ABI: " + err.Error())
	}
	arbitratorABI, err = abi.JSON(strings.NewReader(arbitratorABIJSON))
	if err != nil {
		panic("chain: parse arbitrator ABI: " + err.Error())
	}

	kindBySig = make(map[common.Hash]escrow.EventKind, len(eventName))
	for kind, name := range eventName {
		kindBySig[escrowABI.Events[name].ID] = kind
	}
}

// eventID returns the topic0 hash for the given kind.
func eventID(kind escrow.EventKind) common.Hash {
	return escrowABI.Events[eventName[kind]].ID
}
