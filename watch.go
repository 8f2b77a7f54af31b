package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/jbombled/genpwd-sync/internal/config"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

// watchDebounce batches rapid saves into one upload. Password managers
// typically write the vault via temp file and rename, which fires
// several events per save.
const watchDebounce = 2 * time.Second

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <vault-file>",
		Short: "Watch a vault file and push on every change",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}

	cmd.Flags().String("vault-id", "", "vault identifier (default: file name without extension)")
	cmd.Flags().Duration("debounce", watchDebounce, "time to wait after the last change before pushing")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger := buildLogger()

	localPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving vault path: %w", err)
	}

	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("reading vault file: %w", err)
	}

	vaultID, _ := cmd.Flags().GetString("vault-id")
	if vaultID == "" {
		vaultID = vaultIDFromPath(localPath)
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and password managers
	// replace the file via rename, which would drop a file-level watch.
	if err := watcher.Add(filepath.Dir(localPath)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(localPath), err)
	}

	logger.Info("watching vault", "path", localPath, "vault_id", vaultID)
	statusf("Watching %s; press Ctrl-C to stop.\n", localPath)

	return watchLoop(ctx, watcher, localPath, vaultID, debounce, logger)
}

// watchLoop runs until the context is cancelled, pushing the vault after
// each debounced burst of changes.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, localPath, vaultID string, debounce time.Duration, logger *slog.Logger) error {
	var timer *time.Timer

	pending := make(chan struct{}, 1)

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}

		timer = time.AfterFunc(debounce, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			statusf("Stopped.\n")

			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if ev.Name != localPath {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			logger.Debug("vault changed", "op", ev.Op.String())
			schedule()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("watcher error", "error", err)

		case <-pending:
			if err := pushWatched(ctx, localPath, vaultID, logger); err != nil {
				// Transient failures must not kill the watch; the next
				// save retries.
				logger.Error("push failed", "vault_id", vaultID, "error", err)
				statusf("Push failed: %v\n", err)
			}
		}
	}
}

// pushWatched uploads the current state of the watched vault file.
func pushWatched(ctx context.Context, localPath, vaultID string, logger *slog.Logger) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading vault file: %w", err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("reading vault file: %w", err)
	}

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := p.Metadata(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("checking remote state: %w", err)
	}

	deviceID, err := config.EnsureDeviceID(resolvedCfg.Config, resolvedCfg.Path)
	if err != nil {
		return fmt.Errorf("resolving device ID: %w", err)
	}

	sd := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     vaultID,
		EncryptedData: data,
		Timestamp:     info.ModTime().UnixMilli(),
		Version:       nextVersion(meta),
		DeviceID:      deviceID,
	}
	sd.Checksum = sd.Fingerprint()

	if _, err := p.Upload(ctx, sd); err != nil {
		return err
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.RecordPush(ctx, p.Name(), vaultID, sd.Timestamp, sd.Checksum); err != nil {
		logger.Warn("recording push in journal", "error", err)
	}

	logger.Info("pushed vault", "vault_id", vaultID, "bytes", len(data))
	statusf("Pushed %s (%s).\n", vaultID, formatSize(int64(len(data))))

	return nil
}
