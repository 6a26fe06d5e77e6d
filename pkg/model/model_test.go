package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuditRecordJSON(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 45, 123456000, time.Local)
	rec := AuditRecord{
		Time:    ts,
		Topic:   "torrents",
		Payload: json.RawMessage(`{ "username": "alice", "torrent_id": "t1", "content_path": "/movies/x" }`),
	}

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"2024-05-01 12:30:45.123456": {"topic": "torrents", "payload": {"username": "alice", "torrent_id": "t1", "content_path": "/movies/x"}}}`, string(b))

	var back AuditRecord
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, ts.Equal(back.Time))
	require.Equal(t, "torrents", back.Topic)
	require.JSONEq(t, string(rec.Payload), string(back.Payload))
}

func TestAuditRecordRejectsMultipleKeys(t *testing.T) {
	var rec AuditRecord
	err := json.Unmarshal([]byte(`{"2024-05-01 12:30:45.000000": {}, "2024-05-01 12:30:46.000000": {}}`), &rec)
	require.Error(t, err)
}

func TestTransferRequestValidate(t *testing.T) {
	require.NoError(t, TransferRequest{Username: "alice", TorrentID: "t1", ContentPath: "/movies/x"}.Validate())

	err := TransferRequest{}.Validate()
	require.ErrorContains(t, err, "missing username")
	require.ErrorContains(t, err, "missing torrent_id")
	require.ErrorContains(t, err, "missing content_path")

	for _, id := range []string{".", "..", "a/b", `a\b`, "-f", "a\x00b"} {
		require.Error(t, ValidateTransferID(id), id)
	}
	for _, id := range []string{"t1", "4f2a9c", "movie.2024.mkv"} {
		require.NoError(t, ValidateTransferID(id), id)
	}
}

func TestErrorJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Error Error `json:"error"`
	}{ToError(nil)})
	require.NoError(t, err)
	require.JSONEq(t, `{"error": ""}`, string(b))

	var e Error
	require.NoError(t, json.Unmarshal([]byte(`"boom"`), &e))
	require.Equal(t, "boom", e.Error())
}
