package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/storacha/torrent-sync/pkg/eventlog"
	"github.com/storacha/torrent-sync/pkg/metrics"
	"github.com/storacha/torrent-sync/pkg/model"
	"github.com/storacha/torrent-sync/pkg/transfer"
	"go.uber.org/zap"
)

var log = logging.Logger("runner")

var (
	ErrUnknownHost = errors.New("no remote host for identity")
	ErrInvalidPath = errors.New("content path escapes destination")
)

const defaultCleanupTimeout = time.Minute

type Credentials interface {
	Create(ctx context.Context, transferID string) (model.Credential, error)
	Destroy(transferID string) error
}

type Authorizer interface {
	Grant(ctx context.Context, identity, publicKey string) error
	Revoke(ctx context.Context, identity, publicKey string) error
}

type Puller interface {
	Pull(ctx context.Context, spec transfer.Spec) (transfer.Result, error)
}

// Hosts resolves a requester identity to the address of its remote host.
type Hosts interface {
	Lookup(identity string) (string, bool)
}

type Settings struct {
	SSHUsername     string
	SSHPort         int
	Destination     string        // prefix joined with the request content path
	SettleDelay     time.Duration // wait after a grant before using the key
	TransferTimeout time.Duration // zero means no limit
	CleanupTimeout  time.Duration // bound for revoke, defaults to one minute
}

// TransferRunner drives a transfer request through key generation,
// authorization, transfer and revocation. A single runner is shared by every
// unit; all per-request state lives on the stack of Run.
type TransferRunner struct {
	settings    Settings
	credentials Credentials
	authorizer  Authorizer
	puller      Puller
	hosts       Hosts
	gate        *Gate
	results     eventlog.Appender[model.Transfer]
	metrics     *metrics.Metrics
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewTransferRunner(
	settings Settings,
	credentials Credentials,
	authorizer Authorizer,
	puller Puller,
	hosts Hosts,
	gate *Gate,
	results eventlog.Appender[model.Transfer],
	m *metrics.Metrics,
) *TransferRunner {
	if results == nil {
		results = eventlog.Discard[model.Transfer]{}
	}
	if gate == nil {
		gate = NewGate()
	}
	if settings.CleanupTimeout <= 0 {
		settings.CleanupTimeout = defaultCleanupTimeout
	}
	return &TransferRunner{
		settings:    settings,
		credentials: credentials,
		authorizer:  authorizer,
		puller:      puller,
		hosts:       hosts,
		gate:        gate,
		results:     results,
		metrics:     m,
		sleep:       sleep,
	}
}

// Run processes req to a terminal state and returns its outcome. It never
// panics on collaborator failures; every error ends up in the outcome and
// the logs.
func (r *TransferRunner) Run(ctx context.Context, req model.TransferRequest) model.Transfer {
	out := model.Transfer{
		ID:          uuid.New(),
		Username:    req.Username,
		TorrentID:   req.TorrentID,
		ContentPath: req.ContentPath,
		Started:     time.Now(),
	}
	ulog := log.With("transfer_id", req.TorrentID, "unit", out.ID.String())

	r.metrics.UnitStarted()
	state, err := r.run(ctx, ulog, req, &out)
	r.metrics.UnitFinished(string(state))

	out.State = string(state)
	out.Ended = time.Now()
	out.Error = model.ToError(err)
	if err != nil {
		ulog.Errorw("transfer finished with errors", "state", state, "error", err)
	} else {
		ulog.Infow("transfer finished", "state", state, "elapsed", out.Ended.Sub(out.Started).String())
	}
	if err := r.results.Append(out); err != nil {
		ulog.Errorw("appending to results log", "error", err)
	}
	return out
}

func (r *TransferRunner) run(ctx context.Context, ulog *zap.SugaredLogger, req model.TransferRequest, out *model.Transfer) (State, error) {
	state := StateCreated
	to := func(next State) {
		ulog.Debugw("state transition", "from", state, "to", next)
		state = next
	}

	host, ok := r.hosts.Lookup(req.Username)
	if !ok {
		to(StateAborted)
		return state, fmt.Errorf("%w: %q", ErrUnknownHost, req.Username)
	}
	dest, err := r.destination(req.ContentPath)
	if err != nil {
		to(StateAborted)
		return state, err
	}

	cred, err := r.credentials.Create(ctx, req.TorrentID)
	if err != nil {
		to(StateAborted)
		return state, err
	}
	to(StateKeyed)

	err = r.authorizer.Grant(ctx, req.Username, cred.PublicKey)
	r.metrics.Grant(err)
	if err != nil {
		to(StateAborted)
		if derr := r.credentials.Destroy(req.TorrentID); derr != nil {
			ulog.Errorw("destroying key after failed grant", "error", derr)
			err = errors.Join(err, derr)
		}
		return state, err
	}
	to(StateAuthorized)

	// Keys take a moment to propagate on the remote side.
	if err := r.sleep(ctx, r.settings.SettleDelay); err != nil {
		to(StateAborted)
		return state, errors.Join(err, r.cleanup(ctx, ulog, req, cred))
	}

	if err := r.gate.Acquire(ctx); err != nil {
		to(StateAborted)
		return state, errors.Join(err, r.cleanup(ctx, ulog, req, cred))
	}
	ulog.Debug("transfer gate acquired")
	to(StateTransferring)
	transferErr := r.pull(ctx, ulog, transfer.Spec{
		Port:         r.settings.SSHPort,
		IdentityFile: cred.PrivateKeyPath,
		User:         r.settings.SSHUsername,
		Host:         host,
		RemotePath:   req.ContentPath,
		Destination:  dest,
	}, out)
	r.gate.Release()
	ulog.Debug("transfer gate released")

	cleanupErr := r.cleanup(ctx, ulog, req, cred)
	to(StateRevoked)
	return state, errors.Join(transferErr, cleanupErr)
}

func (r *TransferRunner) pull(ctx context.Context, ulog *zap.SugaredLogger, spec transfer.Spec, out *model.Transfer) error {
	if r.settings.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.settings.TransferTimeout)
		defer cancel()
	}
	res, err := r.puller.Pull(ctx, spec)
	r.metrics.Transfer(res.Duration)
	out.Elapsed = int(res.Duration.Milliseconds())
	if err != nil {
		ulog.Errorw("transfer could not run", "error", err)
		return fmt.Errorf("%w: %w", transfer.ErrTransferFailed, err)
	}
	if err := res.Err(); err != nil {
		ulog.Errorw("transfer failed", "exit_code", res.ExitCode, "error", err)
		return err
	}
	ulog.Infow("transfer completed", "destination", spec.Destination, "elapsed", res.Duration.String())
	return nil
}

// cleanup revokes the grant and destroys the key. Both always run, and run
// on a context detached from ctx so that shutdown does not strand a grant.
func (r *TransferRunner) cleanup(ctx context.Context, ulog *zap.SugaredLogger, req model.TransferRequest, cred model.Credential) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.settings.CleanupTimeout)
	defer cancel()

	var errs []error
	revokeErr := r.authorizer.Revoke(cctx, req.Username, cred.PublicKey)
	r.metrics.Revoke(revokeErr)
	if revokeErr != nil {
		ulog.Errorw("revoking key", "error", revokeErr)
		errs = append(errs, revokeErr)
	}
	if err := r.credentials.Destroy(req.TorrentID); err != nil {
		ulog.Errorw("destroying key", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// destination appends contentPath to the configured prefix, refusing paths
// that resolve outside of it.
func (r *TransferRunner) destination(contentPath string) (string, error) {
	root := filepath.Clean(r.settings.Destination)
	dest := r.settings.Destination + contentPath
	rel, err := filepath.Rel(root, filepath.Clean(dest))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, contentPath)
	}
	return dest, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
