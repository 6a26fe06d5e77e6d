package keys

import (
	"context"
	"fmt"
	"strings"

	"github.com/storacha/torrent-sync/pkg/util"
)

// SSHKeygenGenerator shells out to ssh-keygen. It always writes to the OS
// filesystem, so pair it with a Manager backed by afero.NewOsFs.
type SSHKeygenGenerator struct {
	Path string // ssh-keygen binary, defaults to "ssh-keygen"
}

func (g SSHKeygenGenerator) Generate(ctx context.Context, privatePath string) (string, error) {
	bin := g.Path
	if bin == "" {
		bin = "ssh-keygen"
	}
	res, err := util.RunCommand(ctx, bin, "-t", "rsa", "-q", "-f", privatePath, "-N", "")
	if err != nil {
		return "", fmt.Errorf("running %s: %w", bin, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s", bin, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	res, err = util.RunCommand(ctx, bin, "-y", "-f", privatePath)
	if err != nil {
		return "", fmt.Errorf("running %s: %w", bin, err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("%s -y exited %d: %s", bin, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}
