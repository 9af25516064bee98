package tendermint

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultSocket is where the ABCI server listens unless configured.
const DefaultSocket = "unix://vb.sock"

// InitTendermint runs `tendermint init` in tmHome unless a config.toml is
// already there.
func InitTendermint(ctx context.Context, tmHome string) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if _, err := os.Stat(filepath.Join(tmHome, "config", "config.toml")); err == nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, "tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to initialize Tendermint: %w", err)
	}
	return nil
}

// TendermintCommand builds the command that starts a Tendermint node
// pointed at the ABCI socket.
func TendermintCommand(ctx context.Context, tmHome, socketAddr string) *exec.Cmd {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if socketAddr == "" {
		socketAddr = DefaultSocket
	}
	cmd := exec.CommandContext(ctx, "tendermint", "node",
		"--home", tmHome,
		"--proxy_app", socketAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// TendermintHome is $TMHOME, or ~/.tendermint.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}
