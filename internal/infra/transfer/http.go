// Package transfer streams model artifacts over HTTP to the models directory.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/pana/internal/domain"
)

// Config controls the HTTP transfer.
type Config struct {
	MaxBytes      int64         // Refuse artifacts larger than this (0 = unlimited)
	ChunkSize     int           // Read buffer size (default: 256 KiB)
	ProgressEvery time.Duration // Minimum interval between progress callbacks (default: 250ms)
	UserAgent     string
}

// DefaultConfig returns safe transfer defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:     256 * 1024,
		ProgressEvery: 250 * time.Millisecond,
		UserAgent:     "pana/0.1",
	}
}

// HTTP implements domain.Transfer.
type HTTP struct {
	client *http.Client
	cfg    Config
}

// New creates an HTTP transfer. A nil client uses http.DefaultClient.
func New(client *http.Client, cfg Config) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	return &HTTP{client: client, cfg: cfg}
}

// Fetch downloads desc into dir. Bytes go to a uniquely named .partial
// file which is renamed onto desc.FileName only after the body is complete
// and the checksum (if any) matches, so a cancelled or superseded transfer
// never leaves a truncated artifact under the final name.
func (h *HTTP) Fetch(ctx context.Context, desc domain.ModelDescriptor, dir string, progress domain.ProgressFunc) (string, error) {
	if desc.URL == "" || desc.FileName == "" {
		return "", fmt.Errorf("%s: descriptor has no url or file name", desc.Name)
	}
	if h.cfg.MaxBytes > 0 && desc.SizeBytes > h.cfg.MaxBytes {
		return "", fmt.Errorf("%s needs %s, limit is %s: %w", desc.Name,
			domain.HumanSize(desc.SizeBytes), domain.HumanSize(h.cfg.MaxBytes), domain.ErrModelTooLarge)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %s", desc.URL, resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = desc.SizeBytes
	}
	if h.cfg.MaxBytes > 0 && total > h.cfg.MaxBytes {
		return "", fmt.Errorf("%s is %s: %w", desc.Name, domain.HumanSize(total), domain.ErrModelTooLarge)
	}

	final := filepath.Join(dir, desc.FileName)
	partial := filepath.Join(dir, fmt.Sprintf(".%s.%s.partial", desc.FileName, uuid.NewString()))
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create partial file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(partial)
		}
	}()

	var sum hash.Hash
	if desc.SHA256 != "" {
		sum = sha256.New()
	}

	written, err := h.copy(ctx, f, resp.Body, sum, total, progress)
	if err != nil {
		return "", err
	}
	if total > 0 && written != total {
		return "", fmt.Errorf("short read: got %d of %d bytes", written, total)
	}
	if sum != nil {
		got := hex.EncodeToString(sum.Sum(nil))
		if !strings.EqualFold(got, desc.SHA256) {
			return "", fmt.Errorf("sha256 %s, want %s: %w", got, desc.SHA256, domain.ErrModelCorrupted)
		}
	}

	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	// Last check before the artifact becomes visible.
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(partial, final); err != nil {
		return "", fmt.Errorf("install %s: %w", final, err)
	}
	committed = true

	if progress != nil {
		progress(written, written)
	}
	return final, nil
}

func (h *HTTP) copy(ctx context.Context, dst io.Writer, src io.Reader, sum hash.Hash, total int64, progress domain.ProgressFunc) (int64, error) {
	buf := make([]byte, h.cfg.ChunkSize)
	var (
		written  int64
		lastTick time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			if sum != nil {
				sum.Write(buf[:n])
			}
			written += int64(n)
			if h.cfg.MaxBytes > 0 && written > h.cfg.MaxBytes {
				return written, fmt.Errorf("body exceeds %s: %w", domain.HumanSize(h.cfg.MaxBytes), domain.ErrModelTooLarge)
			}
			if progress != nil && time.Since(lastTick) >= h.cfg.ProgressEvery {
				lastTick = time.Now()
				progress(written, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, fmt.Errorf("read: %w", rerr)
		}
	}
}
