package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/congo-pay/walletledger/internal/ledger"
)

var (
	// ErrSerialization marks a payload that cannot be decoded.
	ErrSerialization = errors.New("malformed command payload")
	// ErrUnknownCommand marks a payload whose type discriminator is absent or unknown.
	ErrUnknownCommand = errors.New("unknown command type")
)

type envelope struct {
	Event json.RawMessage `json:"event"`
}

type transferBody struct {
	EventSource      Event `json:"eventSource"`
	EventDestination Event `json:"eventDestination"`
	SourceVersion    int64 `json:"sourceVersion"`
}

type discriminator struct {
	Type        ledger.TransactionType `json:"type"`
	EventSource *struct {
		Type ledger.TransactionType `json:"type"`
	} `json:"eventSource"`
}

type decodeFunc func(raw json.RawMessage) (Command, error)

var decoders = map[ledger.TransactionType]decodeFunc{
	ledger.TypeDeposit:     decodeDeposit,
	ledger.TypeWithdraw:    decodeWithdraw,
	ledger.TypeTransferOut: decodeTransfer,
	ledger.TypeTransferIn:  decodeTransfer,
}

// Encode renders cmd as the {"event": ...} envelope.
func Encode(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd.payload())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return json.Marshal(envelope{Event: body})
}

// Decode parses an envelope and resolves it to its variant by the nested
// event's type. A transfer envelope may omit the top-level type, in which case
// the source leg's type decides.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if len(env.Event) == 0 || string(env.Event) == "null" {
		return nil, fmt.Errorf("%w: missing event", ErrSerialization)
	}

	var d discriminator
	if err := json.Unmarshal(env.Event, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	typ := d.Type
	if typ == "" && d.EventSource != nil {
		typ = d.EventSource.Type
	}

	decode, ok := decoders[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, typ)
	}
	return decode(env.Event)
}

func decodeDeposit(raw json.RawMessage) (Command, error) {
	var e Event
	if err := unmarshalEvent(raw, &e); err != nil {
		return nil, err
	}
	return Deposit{Event: e}, nil
}

func decodeWithdraw(raw json.RawMessage) (Command, error) {
	var e Event
	if err := unmarshalEvent(raw, &e); err != nil {
		return nil, err
	}
	return Withdraw{Event: e}, nil
}

func decodeTransfer(raw json.RawMessage) (Command, error) {
	var body transferBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := validateEvent(body.EventSource); err != nil {
		return nil, err
	}
	if err := validateEvent(body.EventDestination); err != nil {
		return nil, err
	}
	if body.EventSource.RequestTransactionID != body.EventDestination.RequestTransactionID {
		return nil, fmt.Errorf("%w: transfer legs carry different request ids", ErrSerialization)
	}
	return Transfer{
		Source:        body.EventSource,
		Destination:   body.EventDestination,
		SourceVersion: body.SourceVersion,
	}, nil
}

func unmarshalEvent(raw json.RawMessage, e *Event) error {
	if err := json.Unmarshal(raw, e); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return validateEvent(*e)
}

func validateEvent(e Event) error {
	if e.RequestTransactionID == "" {
		return fmt.Errorf("%w: missing requestTransactionId", ErrSerialization)
	}
	if e.WalletID == uuid.Nil {
		return fmt.Errorf("%w: missing walletId", ErrSerialization)
	}
	return nil
}
