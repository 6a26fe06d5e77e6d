package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storacha/torrent-sync/pkg/model"
	"github.com/storacha/torrent-sync/pkg/transfer"
	"github.com/storacha/torrent-sync/pkg/util"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(e string) int {
	n := 0
	for _, ev := range r.list() {
		if ev == e {
			n++
		}
	}
	return n
}

type fakeCredentials struct {
	rec       *recorder
	createErr error
}

func (f *fakeCredentials) Create(_ context.Context, id string) (model.Credential, error) {
	f.rec.add("create")
	if f.createErr != nil {
		return model.Credential{}, f.createErr
	}
	return model.Credential{TransferID: id, PrivateKeyPath: "/keys/" + id, PublicKey: "ssh-rsa " + id}, nil
}

func (f *fakeCredentials) Destroy(string) error {
	f.rec.add("destroy")
	return nil
}

type fakeAuthorizer struct {
	rec       *recorder
	grantErr  error
	revokeErr error

	mu           sync.Mutex
	revokeCtxErr error // ctx.Err() observed when Revoke was called
}

func (f *fakeAuthorizer) Grant(context.Context, string, string) error {
	f.rec.add("grant")
	return f.grantErr
}

func (f *fakeAuthorizer) Revoke(ctx context.Context, _, _ string) error {
	f.rec.add("revoke")
	f.mu.Lock()
	f.revokeCtxErr = ctx.Err()
	f.mu.Unlock()
	return f.revokeErr
}

type fakePuller struct {
	rec       *recorder
	delay     time.Duration
	result    transfer.Result
	err       error
	block     bool
	mu        sync.Mutex
	specs     []transfer.Spec
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakePuller) Pull(ctx context.Context, spec transfer.Spec) (transfer.Result, error) {
	f.rec.add("pull")
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return transfer.Result{}, ctx.Err()
	}
	time.Sleep(f.delay)
	return f.result, f.err
}

type hosts map[string]string

func (h hosts) Lookup(k string) (string, bool) {
	v, ok := h[k]
	return v, ok
}

type memResults struct {
	mu    sync.Mutex
	items []model.Transfer
}

func (m *memResults) Append(t model.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, t)
	return nil
}

type fixture struct {
	rec     *recorder
	creds   *fakeCredentials
	auth    *fakeAuthorizer
	puller  *fakePuller
	results *memResults
	runner  *TransferRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec := &recorder{}
	f := &fixture{
		rec:     rec,
		creds:   &fakeCredentials{rec: rec},
		auth:    &fakeAuthorizer{rec: rec},
		puller:  &fakePuller{rec: rec},
		results: &memResults{},
	}
	f.runner = NewTransferRunner(
		Settings{SSHUsername: "puller", SSHPort: 2222, Destination: "/data"},
		f.creds, f.auth, f.puller,
		hosts{"alice": "10.0.0.5"},
		NewGate(), f.results, nil,
	)
	return f
}

var aliceReq = model.TransferRequest{Username: "alice", TorrentID: "t1", ContentPath: "/movies/x"}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateRevoked), out.State)
	require.Empty(t, out.Error.Message)
	require.Equal(t, []string{"create", "grant", "pull", "revoke", "destroy"}, f.rec.list())
	require.Equal(t, []transfer.Spec{{
		Port:         2222,
		IdentityFile: "/keys/t1",
		User:         "puller",
		Host:         "10.0.0.5",
		RemotePath:   "/movies/x",
		Destination:  "/data/movies/x",
	}}, f.puller.specs)
	require.Len(t, f.results.items, 1)
	require.Equal(t, out, f.results.items[0])
}

func TestRunGrantDenied(t *testing.T) {
	f := newFixture(t)
	f.auth.grantErr = errors.New("authorization denied")

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateAborted), out.State)
	require.Contains(t, out.Error.Message, "authorization denied")
	require.Equal(t, 0, f.rec.count("pull"))
	require.Equal(t, 0, f.rec.count("revoke"))
	require.Equal(t, 1, f.rec.count("destroy"))
}

func TestRunKeyGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.creds.createErr = errors.New("key generation failed")

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateAborted), out.State)
	require.Equal(t, []string{"create"}, f.rec.list())
}

func TestRunTransferFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.puller.result = transfer.Result{CommandResult: util.CommandResult{Stderr: "permission denied", ExitCode: 255}}

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateRevoked), out.State)
	require.Contains(t, out.Error.Message, "permission denied")
	require.Equal(t, []string{"create", "grant", "pull", "revoke", "destroy"}, f.rec.list())
}

func TestRunTransferStartFailureStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.puller.err = errors.New("exec: rsync not found")

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateRevoked), out.State)
	require.Equal(t, []string{"create", "grant", "pull", "revoke", "destroy"}, f.rec.list())
}

func TestRunRevokeFailureStillDestroys(t *testing.T) {
	f := newFixture(t)
	f.auth.revokeErr = errors.New("revoke failed")

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateRevoked), out.State)
	require.Contains(t, out.Error.Message, "revoke failed")
	require.Equal(t, 1, f.rec.count("destroy"))
}

func TestRunTransferTimeout(t *testing.T) {
	f := newFixture(t)
	f.puller.block = true
	f.runner.settings.TransferTimeout = 20 * time.Millisecond

	out := f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, string(StateRevoked), out.State)
	require.Contains(t, out.Error.Message, context.DeadlineExceeded.Error())
	require.Equal(t, []string{"create", "grant", "pull", "revoke", "destroy"}, f.rec.list())
	require.NoError(t, f.auth.revokeCtxErr)
}

func TestRunSettleDelay(t *testing.T) {
	f := newFixture(t)
	f.runner.settings.SettleDelay = 5 * time.Second
	var slept time.Duration
	f.runner.sleep = func(_ context.Context, d time.Duration) error {
		f.rec.add("settle")
		slept = d
		return nil
	}

	f.runner.Run(context.Background(), aliceReq)

	require.Equal(t, 5*time.Second, slept)
	require.Equal(t, []string{"create", "grant", "settle", "pull", "revoke", "destroy"}, f.rec.list())
}

func TestRunCancelledDuringSettleCleansUp(t *testing.T) {
	f := newFixture(t)
	f.runner.settings.SettleDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.runner.Run(ctx, aliceReq)

	require.Equal(t, string(StateAborted), out.State)
	require.Equal(t, []string{"create", "grant", "revoke", "destroy"}, f.rec.list())
	require.NoError(t, f.auth.revokeCtxErr)
}

func TestRunUnknownHost(t *testing.T) {
	f := newFixture(t)

	out := f.runner.Run(context.Background(), model.TransferRequest{Username: "bob", TorrentID: "t2", ContentPath: "/x"})

	require.Equal(t, string(StateAborted), out.State)
	require.Contains(t, out.Error.Message, ErrUnknownHost.Error())
	require.Empty(t, f.rec.list())
}

func TestRunRejectsEscapingPath(t *testing.T) {
	f := newFixture(t)

	out := f.runner.Run(context.Background(), model.TransferRequest{Username: "alice", TorrentID: "t3", ContentPath: "/../etc"})

	require.Equal(t, string(StateAborted), out.State)
	require.Contains(t, out.Error.Message, ErrInvalidPath.Error())
	require.Empty(t, f.rec.list())
}

func TestGateAllowsOneTransfer(t *testing.T) {
	f := newFixture(t)
	f.puller.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := aliceReq
			req.TorrentID = "t" + string(rune('a'+i))
			f.runner.Run(context.Background(), req)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), f.puller.maxActive.Load())
	require.Equal(t, 16, f.rec.count("pull"))
	require.Equal(t, 16, f.rec.count("destroy"))
}

func TestDestination(t *testing.T) {
	r := &TransferRunner{settings: Settings{Destination: "/data"}}

	dest, err := r.destination("/movies/x")
	require.NoError(t, err)
	require.Equal(t, "/data/movies/x", dest)

	dest, err = r.destination("/movies/x/")
	require.NoError(t, err)
	require.Equal(t, "/data/movies/x/", dest)

	_, err = r.destination("/../../etc/passwd")
	require.ErrorIs(t, err, ErrInvalidPath)
}
