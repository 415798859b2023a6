package replaycli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/wire"
)

func seedOneRecord(t *testing.T, opts *RootOptions, rec archive.Record) {
	t.Helper()
	arc, err := opts.openArchive()
	require.NoError(t, err)
	defer arc.Close()
	require.NoError(t, arc.Save(context.Background(), rec))
}

func TestShowCommand_NotFound(t *testing.T) {
	opts := newTestOpts(t, "text")
	cmd := newShowCommand(opts)

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--id", "missing"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestShowCommand_TextOutput(t *testing.T) {
	opts := newTestOpts(t, "text")
	rec := archive.Record{
		InvocationID: "inv-show-1",
		ServiceName:  "greeter",
		HandlerName:  "hello",
		ArchivedAt:   time.Now().UTC(),
		Entries: []journal.Entry{
			{Index: 0, Kind: wire.KindInput, Body: []byte("hi"), Result: journal.EmptyResult},
			{Index: 1, Kind: wire.KindOutput, Result: journal.ValueResult([]byte("bye"))},
		},
	}
	seedOneRecord(t, opts, rec)

	cmd := newShowCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--id", "inv-show-1"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "inv-show-1")
	assert.Contains(t, out, "greeter")
	assert.Contains(t, out, "value (3 bytes)")
}

func TestShowCommand_JSONOutput(t *testing.T) {
	opts := newTestOpts(t, "json")
	rec := archive.Record{
		InvocationID: "inv-show-2",
		ServiceName:  "greeter",
		HandlerName:  "hello",
		ArchivedAt:   time.Now().UTC(),
		Entries: []journal.Entry{
			{Index: 0, Kind: wire.KindInput, Body: []byte("hi")},
		},
	}
	seedOneRecord(t, opts, rec)

	cmd := newShowCommand(opts)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--id", "inv-show-2"})

	require.NoError(t, cmd.Execute())

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}
