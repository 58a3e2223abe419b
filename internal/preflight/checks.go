package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"scribe/internal/config"
	"scribe/internal/deps"
	"scribe/internal/services/llm"
)

const gib = float64(1 << 30)

func pass(name, format string, args ...any) Result {
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf(format, args...)}
}

func fail(name, format string, args ...any) Result {
	return Result{Name: name, Detail: fmt.Sprintf(format, args...)}
}

// CheckLLM lists the provider's models within 30 seconds. It runs no
// inference, so it bypasses the gateway without spending budget.
func CheckLLM(ctx context.Context, name string, cfg config.LLMConfig) Result {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return fail(name, "API key missing")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := llm.NewClient(llm.Config(cfg))
	if err := client.HealthCheck(ctx); err != nil {
		return fail(name, "%s", describeNetError(err))
	}
	return pass(name, "API reachable (model %s)", client.Model())
}

// CheckHTTP treats any HTTP answer below 500 as reachable.
func CheckHTTP(ctx context.Context, name, baseURL string) Result {
	target := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if target == "" {
		return fail(name, "missing url")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fail(name, "bad url (%v)", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fail(name, "%s", describeNetError(err))
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fail(name, "server error (%d)", resp.StatusCode)
	}
	return pass(name, "reachable (%d)", resp.StatusCode)
}

// CheckDirectoryAccess requires path to be a directory the daemon can list,
// read and write.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fail(name, "%s does not exist", path)
	case err != nil:
		return fail(name, "%s: %v", path, err)
	case !info.IsDir():
		return fail(name, "%s is not a directory", path)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fail(name, "%s: insufficient permissions: %v", path, err)
	}
	return pass(name, "%s (read/write ok)", path)
}

// CheckFreeSpace compares the space available to unprivileged users on the
// filesystem holding path against minBytes.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return fail(name, "%s: statfs: %v", path, err)
	}
	free := fs.Bavail * uint64(fs.Bsize)
	if free < minBytes {
		return fail(name, "%s has %.1f GiB free, need %.1f GiB", path, float64(free)/gib, float64(minBytes)/gib)
	}
	return pass(name, "%s (%.1f GiB free)", path, float64(free)/gib)
}

// CheckSystemDeps resolves the external binaries cfg points at.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.Requirements(cfg))
}

func describeNetError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out waiting for a response"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timed out connecting"
	default:
		return err.Error()
	}
}
