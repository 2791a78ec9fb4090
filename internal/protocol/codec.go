package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolError reports an envelope that could not be decoded as the
// requested variant.
type ProtocolError struct {
	Expected Type
	Actual   Type
	Reason   string
	Err      error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol: expected message type %q, got %q", e.Expected, e.Actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

type envelope struct {
	Type Type `json:"type"`
}

// Encode serializes a message to its wire form.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return data, nil
}

// PeekType returns the discriminator of an encoded message.
func PeekType(data []byte) (Type, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	return env.Type, nil
}

// Decode decodes whichever variant the envelope names.
func Decode(data []byte) (Message, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeUpsert:
		return DecodeUpsert(data)
	case TypeDeleteOne:
		return DecodeDeleteOne(data)
	case TypeDeleteMany:
		return DecodeDeleteMany(data)
	case TypeReplaceAll:
		return DecodeReplaceAll(data)
	default:
		return nil, &ProtocolError{Actual: t, Reason: "unknown message type"}
	}
}

// DecodeUpsert decodes an upsertScans message.
func DecodeUpsert(data []byte) (Upsert, error) {
	var raw struct {
		Records *[]Record `json:"newScans"`
		Txn     string    `json:"transactionHash"`
	}
	if err := decodeAs(data, TypeUpsert, &raw); err != nil {
		return Upsert{}, err
	}
	if raw.Records == nil {
		return Upsert{}, &ProtocolError{Expected: TypeUpsert, Actual: TypeUpsert, Reason: "missing newScans"}
	}
	return Upsert{Records: *raw.Records, Txn: raw.Txn}, nil
}

// DecodeDeleteOne decodes a deleteScan message.
func DecodeDeleteOne(data []byte) (DeleteOne, error) {
	var m DeleteOne
	if err := decodeAs(data, TypeDeleteOne, &m); err != nil {
		return DeleteOne{}, err
	}
	if m.ID == "" {
		return DeleteOne{}, &ProtocolError{Expected: TypeDeleteOne, Actual: TypeDeleteOne, Reason: "missing id"}
	}
	return m, nil
}

// DecodeDeleteMany decodes a deleteScans message.
func DecodeDeleteMany(data []byte) (DeleteMany, error) {
	var raw struct {
		IDs *[]string `json:"ids"`
		Txn string    `json:"transactionHash"`
	}
	if err := decodeAs(data, TypeDeleteMany, &raw); err != nil {
		return DeleteMany{}, err
	}
	if raw.IDs == nil {
		return DeleteMany{}, &ProtocolError{Expected: TypeDeleteMany, Actual: TypeDeleteMany, Reason: "missing ids"}
	}
	return DeleteMany{IDs: *raw.IDs, Txn: raw.Txn}, nil
}

// DecodeReplaceAll decodes a replaceAllScans message.
func DecodeReplaceAll(data []byte) (ReplaceAll, error) {
	var raw struct {
		Records *[]Record `json:"scans"`
		Txn     string    `json:"transactionHash"`
	}
	if err := decodeAs(data, TypeReplaceAll, &raw); err != nil {
		return ReplaceAll{}, err
	}
	if raw.Records == nil {
		return ReplaceAll{}, &ProtocolError{Expected: TypeReplaceAll, Actual: TypeReplaceAll, Reason: "missing scans"}
	}
	return ReplaceAll{Records: *raw.Records, Txn: raw.Txn}, nil
}

// decodeAs checks the discriminator before decoding the payload into dst.
func decodeAs(data []byte, want Type, dst any) error {
	got, err := PeekType(data)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			perr.Expected = want
		}
		return err
	}
	if got != want {
		return &ProtocolError{Expected: want, Actual: got}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &ProtocolError{Expected: want, Actual: got, Reason: "malformed payload", Err: err}
	}
	return nil
}
