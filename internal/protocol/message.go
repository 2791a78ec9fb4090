// Package protocol defines the messages pushed to watcher connections.
//
// Every message is a single JSON object with a "type" discriminator:
//
//	{"type":"upsertScans","newScans":[...],"transactionHash":"txn-..."}
//	{"type":"deleteScan","id":"...","transactionHash":"txn-..."}
//	{"type":"deleteScans","ids":[...],"transactionHash":"txn-..."}
//	{"type":"replaceAllScans","scans":[...]}
//
// transactionHash is omitted when the originating change had no transaction.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

// Type is the message discriminator.
type Type string

// Message types understood by clients.
const (
	TypeUpsert     Type = "upsertScans"
	TypeDeleteOne  Type = "deleteScan"
	TypeDeleteMany Type = "deleteScans"
	TypeReplaceAll Type = "replaceAllScans"
)

// Application-level keepalive exchanged as plain text frames.
const (
	PingText = "ping"
	PongText = "pong"
)

// Message is implemented by every envelope variant.
type Message interface {
	MessageType() Type
	// TxnID returns the transaction identifier, or "" if there is none.
	TxnID() string
}

// Upsert inserts or replaces records on the client.
// Clients treat a repeated id as a replace, never an append.
type Upsert struct {
	Records []Record `json:"newScans"`
	Txn     string   `json:"transactionHash,omitempty"`
}

// DeleteOne removes a single record.
type DeleteOne struct {
	ID  string `json:"id"`
	Txn string `json:"transactionHash,omitempty"`
}

// DeleteMany removes several records at once.
type DeleteMany struct {
	IDs []string `json:"ids"`
	Txn string   `json:"transactionHash,omitempty"`
}

// ReplaceAll is the full record set for one user. Clients discard
// anything they hold that is not in Records.
type ReplaceAll struct {
	Records []Record `json:"scans"`
	Txn     string   `json:"transactionHash,omitempty"`
}

func (Upsert) MessageType() Type     { return TypeUpsert }
func (DeleteOne) MessageType() Type  { return TypeDeleteOne }
func (DeleteMany) MessageType() Type { return TypeDeleteMany }
func (ReplaceAll) MessageType() Type { return TypeReplaceAll }

func (m Upsert) TxnID() string     { return m.Txn }
func (m DeleteOne) TxnID() string  { return m.Txn }
func (m DeleteMany) TxnID() string { return m.Txn }
func (m ReplaceAll) TxnID() string { return m.Txn }

// NewUpsert builds an Upsert from scans, newest first.
func NewUpsert(scans []*domain.Scan, txn string) Upsert {
	return Upsert{Records: RecordsFromScans(scans), Txn: txn}
}

// NewReplaceAll builds a ReplaceAll from scans, newest first.
// An empty input produces an empty (not null) record list.
func NewReplaceAll(scans []*domain.Scan, txn string) ReplaceAll {
	return ReplaceAll{Records: RecordsFromScans(scans), Txn: txn}
}

// NewDeleteOne builds a DeleteOne. Identifiers go out in lowercase.
func NewDeleteOne(id, txn string) DeleteOne {
	return DeleteOne{ID: strings.ToLower(id), Txn: txn}
}

// NewDeleteMany builds a DeleteMany.
func NewDeleteMany(ids []string, txn string) DeleteMany {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.ToLower(id)
	}
	return DeleteMany{IDs: out, Txn: txn}
}

func (m Upsert) MarshalJSON() ([]byte, error) {
	type wire Upsert
	w := wire(m)
	if w.Records == nil {
		w.Records = []Record{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeUpsert, w})
}

func (m DeleteOne) MarshalJSON() ([]byte, error) {
	type wire DeleteOne
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeDeleteOne, wire(m)})
}

func (m DeleteMany) MarshalJSON() ([]byte, error) {
	type wire DeleteMany
	w := wire(m)
	if w.IDs == nil {
		w.IDs = []string{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeDeleteMany, w})
}

func (m ReplaceAll) MarshalJSON() ([]byte, error) {
	type wire ReplaceAll
	w := wire(m)
	if w.Records == nil {
		w.Records = []Record{}
	}
	return json.Marshal(struct {
		Type Type `json:"type"`
		wire
	}{TypeReplaceAll, w})
}
