package restorer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/textileio/go-tonconnect/pkg/backup"
)

// Restorer recreates an event store database from a snapshot.
type Restorer struct {
	client *http.Client
}

// New creates a new Restorer. Remote snapshots are downloaded with client,
// or http.DefaultClient when nil.
func New(client *http.Client) *Restorer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Restorer{client: client}
}

// Restore writes the snapshot at src, a local path or an http(s) URL, to
// the database file dst. An existing dst is only replaced once the
// snapshot was fully written.
func (r *Restorer) Restore(ctx context.Context, src, dst string) error {
	tmpDir, err := os.MkdirTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %s", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	local := src
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		local = filepath.Join(tmpDir, "snapshot.db")
		if strings.HasSuffix(src, ".zst") {
			local += ".zst"
		}
		if err := r.download(ctx, src, local); err != nil {
			return fmt.Errorf("downloading snapshot: %s", err)
		}
	}

	if strings.HasSuffix(local, ".zst") {
		compressed := filepath.Join(tmpDir, "restored.db.zst")
		if err := copyFile(local, compressed); err != nil {
			return fmt.Errorf("copying snapshot: %s", err)
		}
		if local, err = backup.Decompress(compressed); err != nil {
			return fmt.Errorf("decompress: %s", err)
		}
	}

	staged := filepath.Join(tmpDir, "staged.db")
	if err := copyFile(local, staged); err != nil {
		return fmt.Errorf("staging database: %s", err)
	}
	if err := os.Rename(staged, dst); err != nil {
		return fmt.Errorf("replacing database: %s", err)
	}
	return nil
}

func (r *Restorer) download(ctx context.Context, url, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %s", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading: %s", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating file: %s", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return fmt.Errorf("io copy: %s", err)
	}
	return out.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening file: %s", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating file: %s", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copying file: %s", err)
	}
	return out.Close()
}
