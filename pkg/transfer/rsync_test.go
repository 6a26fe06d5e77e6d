package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/storacha/torrent-sync/pkg/util"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	args := Rsync{}.Args(Spec{
		Port:         2222,
		IdentityFile: "/keys/t1",
		User:         "puller",
		Host:         "10.0.0.5",
		RemotePath:   "/movies/x",
		Destination:  "/data/movies/x",
	})

	require.Equal(t, []string{
		"-avz",
		"-e", "ssh -p 2222 -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o IdentitiesOnly=yes -o IdentityFile=/keys/t1",
		"puller@10.0.0.5:/movies/x",
		"/data/movies/x",
	}, args)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fake-rsync")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return p
}

func TestPullSuccess(t *testing.T) {
	bin := writeScript(t, `echo "sent $#"`)

	res, err := Rsync{Path: bin}.Pull(context.Background(), Spec{Port: 22, RemotePath: "x", Destination: "/tmp/x"})
	require.NoError(t, err)
	require.Equal(t, "sent 5\n", res.Stdout)
	require.False(t, res.Failed())
	require.NoError(t, res.Err())
}

func TestPullNonZeroExitIsNotAnError(t *testing.T) {
	bin := writeScript(t, `echo "connection refused" >&2; exit 255`)

	res, err := Rsync{Path: bin}.Pull(context.Background(), Spec{Port: 22})
	require.NoError(t, err)
	require.Equal(t, 255, res.ExitCode)
	require.True(t, res.Failed())
	require.ErrorIs(t, res.Err(), ErrTransferFailed)
	require.Contains(t, res.Err().Error(), "connection refused")
}

func TestPullStderrOnlyIsFailure(t *testing.T) {
	res := Result{CommandResult: util.CommandResult{Stderr: "warning: partial transfer"}}
	require.True(t, res.Failed())
}

func TestPullMissingBinary(t *testing.T) {
	_, err := Rsync{Path: "/nonexistent/rsync"}.Pull(context.Background(), Spec{})
	require.Error(t, err)
}
