package changefeed

import (
	"github.com/barcodedrop/barcodedrop-server/internal/domain"
	"github.com/barcodedrop/barcodedrop-server/internal/protocol"
	"github.com/barcodedrop/barcodedrop-server/internal/store"
)

// Translate turns a change event into the message for the affected user.
// The document is the after-image, or the before-image when there is none,
// which is always the case for deletes.
func Translate(ev *store.ChangeEvent) (protocol.Message, string, error) {
	record := ev.After
	if record == nil {
		record = ev.Before
	}
	if record == nil {
		return nil, "", &ResolutionError{Seq: ev.Seq, Op: ev.Op, Reason: "event carries no document image"}
	}
	if !record.HasUser() {
		return nil, "", &ResolutionError{Seq: ev.Seq, Op: ev.Op, Reason: "document has no user"}
	}

	switch ev.Op {
	case store.OpInsert, store.OpUpdate, store.OpReplace:
		return protocol.NewUpsert([]*domain.Scan{record}, ev.TxnID), record.User, nil
	case store.OpDelete:
		return protocol.NewDeleteOne(record.ID, ev.TxnID), record.User, nil
	default:
		return nil, "", &ResolutionError{Seq: ev.Seq, Op: ev.Op, Reason: "unknown operation"}
	}
}
