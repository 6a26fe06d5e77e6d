package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/torrent-sync/pkg/util"
)

var log = logging.Logger("transfer")

var ErrTransferFailed = errors.New("transfer failed")

// Spec describes a single pull of RemotePath on Host into Destination.
type Spec struct {
	Port         int
	IdentityFile string
	User         string
	Host         string
	RemotePath   string
	Destination  string
}

type Result struct {
	Command string
	util.CommandResult
}

// Err returns ErrTransferFailed with the captured stderr when the result
// signals failure, nil otherwise.
func (r Result) Err() error {
	if !r.Failed() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = fmt.Sprintf("exit status %d", r.ExitCode)
	}
	return fmt.Errorf("%w: %s", ErrTransferFailed, msg)
}

// Rsync pulls over rsync with an ssh transport.
type Rsync struct {
	Path string // rsync binary, defaults to "rsync"
}

// Args returns the rsync arguments for spec. Host key checking is disabled
// and nothing is written to known_hosts: target hosts change per request and
// are never pre-trusted.
func (r Rsync) Args(spec Spec) []string {
	sshCmd := fmt.Sprintf(
		"ssh -p %d -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null -o IdentitiesOnly=yes -o IdentityFile=%s",
		spec.Port, spec.IdentityFile,
	)
	remote := fmt.Sprintf("%s@%s:/%s", spec.User, spec.Host, strings.TrimPrefix(spec.RemotePath, "/"))
	return []string{"-avz", "-e", sshCmd, remote, spec.Destination}
}

// Pull runs the transfer. A non-zero exit is reported in the Result; the
// error is only set when rsync could not be started or ctx ended.
func (r Rsync) Pull(ctx context.Context, spec Spec) (Result, error) {
	bin := r.Path
	if bin == "" {
		bin = "rsync"
	}
	args := r.Args(spec)
	command := bin + " " + strings.Join(args, " ")
	log.Infof("rsync runner - executing: %s", command)

	res, err := util.RunCommand(ctx, bin, args...)
	out := Result{Command: command, CommandResult: res}
	log.Infof("rsync runner - completed - time elapsed: %s", res.Duration)
	if res.Stdout != "" {
		log.Debug(res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "" {
		log.Error(res.Stderr)
	}
	if err != nil {
		return out, fmt.Errorf("running rsync: %w", err)
	}
	return out, nil
}
