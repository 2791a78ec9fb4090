package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barcodedrop/barcodedrop-server/internal/domain"
)

var testTime = time.Date(2024, 7, 12, 14, 54, 36, 0, time.UTC)

func TestUpsert_WireShape(t *testing.T) {
	msg := NewUpsert([]*domain.Scan{
		{ID: "669143ac4b3057f2b8dbc027", Barcode: "woah man", User: "schornpe", Date: testTime},
	}, "")

	data, err := Encode(msg)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "upsertScans",
		"newScans": [
			{"id": "669143ac4b3057f2b8dbc027", "barcode": "woah man", "user": "schornpe", "date": "2024-07-12T14:54:36Z"}
		]
	}`, string(data))
}

func TestMessages_CarryTxnWhenPresent(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"deleteOne", NewDeleteOne("abc", "txn-1"), `{"type":"deleteScan","id":"abc","transactionHash":"txn-1"}`},
		{"deleteMany", NewDeleteMany([]string{"a", "b"}, "txn-2"), `{"type":"deleteScans","ids":["a","b"],"transactionHash":"txn-2"}`},
		{"deleteManyEmpty", NewDeleteMany(nil, ""), `{"type":"deleteScans","ids":[]}`},
		{"replaceAllEmpty", NewReplaceAll(nil, ""), `{"type":"replaceAllScans","scans":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestNewReplaceAll_SortsNewestFirst(t *testing.T) {
	scans := []*domain.Scan{
		{ID: "01", Barcode: "old", User: "alice", Date: testTime},
		{ID: "03", Barcode: "new", User: "alice", Date: testTime.Add(time.Minute)},
		{ID: "02", Barcode: "mid", User: "alice", Date: testTime.Add(time.Second)},
	}

	msg := NewReplaceAll(scans, "")

	require.Len(t, msg.Records, 3)
	assert.Equal(t, "new", msg.Records[0].Barcode)
	assert.Equal(t, "mid", msg.Records[1].Barcode)
	assert.Equal(t, "old", msg.Records[2].Barcode)
	// Input order is untouched.
	assert.Equal(t, "01", scans[0].ID)
}

func TestRoundTrip_Decode(t *testing.T) {
	original := NewUpsert([]*domain.Scan{
		{ID: "abc", Barcode: "X", User: "alice", Date: testTime},
	}, "txn-9")

	data, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	upsert, ok := decoded.(Upsert)
	require.True(t, ok)
	assert.Equal(t, "txn-9", upsert.TxnID())
	require.Len(t, upsert.Records, 1)
	assert.Equal(t, "X", upsert.Records[0].Barcode)
	assert.True(t, testTime.Equal(upsert.Records[0].Date.Time))
}

func TestDecode_TypeMismatch(t *testing.T) {
	data, err := Encode(NewDeleteOne("abc", ""))
	require.NoError(t, err)

	_, err = DecodeUpsert(data)
	require.Error(t, err)

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, TypeUpsert, perr.Expected)
	assert.Equal(t, TypeDeleteOne, perr.Actual)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `nope`},
		{"unknown type", `{"type":"splashText"}`},
		{"missing type", `{"id":"abc"}`},
		{"missing payload", `{"type":"upsertScans"}`},
		{"missing id", `{"type":"deleteScan"}`},
		{"bad date", `{"type":"replaceAllScans","scans":[{"id":"a","barcode":"b","date":"yesterday"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			var perr *ProtocolError
			assert.True(t, errors.As(err, &perr), "want ProtocolError, got %v", err)
		})
	}
}

func TestTimestamp_AcceptsFractionalSeconds(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-07-12T14:54:36.250+02:00"`), &ts))
	assert.Equal(t, 12, ts.Hour())
	assert.Equal(t, 250*time.Millisecond, time.Duration(ts.Nanosecond()))
}

func TestRecordFromScan_LowercasesID(t *testing.T) {
	r := RecordFromScan(&domain.Scan{ID: "ABC123", Barcode: "X", Date: testTime})
	assert.Equal(t, "abc123", r.ID)
	assert.Equal(t, "abc123", r.Scan().ID)
}
