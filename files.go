package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbombled/genpwd-sync/internal/config"
	"github.com/jbombled/genpwd-sync/internal/journal"
	"github.com/jbombled/genpwd-sync/internal/vault"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <vault-file>",
		Short: "Upload an encrypted vault file",
		Args:  cobra.ExactArgs(1),
		RunE:  runPush,
	}

	cmd.Flags().String("vault-id", "", "vault identifier (default: file name without extension)")
	cmd.Flags().String("name", "", "display name stored with the vault")
	cmd.Flags().BoolP("force", "f", false, "overwrite even if the remote copy is newer")

	return cmd
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <vault-id> [local-path]",
		Short: "Download an encrypted vault file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPull,
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List vaults stored with the provider",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <vault-id>",
		Short: "Delete a vault from the provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <vault-id>",
		Short: "Show remote metadata and sync state for a vault",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show provider storage usage",
		Args:  cobra.NoArgs,
		RunE:  runQuota,
	}
}

// vaultIDFromPath derives a vault identifier from a local file name:
// "personal.vault" becomes "personal".
func vaultIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// openJournal opens the sync journal at its default location.
func openJournal() (*journal.Store, error) {
	j, err := journal.Open(config.DefaultJournalPath())
	if err != nil {
		return nil, fmt.Errorf("opening sync journal: %w", err)
	}

	return j, nil
}

// nextVersion derives the upload version from remote metadata: one past
// the remote version when it parses as a number, 1 otherwise.
func nextVersion(meta *vault.FileMetadata) int {
	if meta == nil {
		return 1
	}

	if v, err := strconv.Atoi(meta.Version); err == nil {
		return v + 1
	}

	return 1
}

func runPush(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	localPath := args[0]

	vaultID, _ := cmd.Flags().GetString("vault-id")
	if vaultID == "" {
		vaultID = vaultIDFromPath(localPath)
	}

	vaultName, _ := cmd.Flags().GetString("name")
	if vaultName == "" {
		vaultName = vaultID
	}

	force, _ := cmd.Flags().GetBool("force")

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

	timestampMS := info.ModTime().UnixMilli()

	if !force && vault.Newer(meta, timestampMS) {
		return fmt.Errorf("remote vault %q is newer than the local file; pull first or use --force", vaultID)
	}

	deviceID, err := config.EnsureDeviceID(resolvedCfg.Config, resolvedCfg.Path)
	if err != nil {
		return fmt.Errorf("resolving device ID: %w", err)
	}

	sd := &vault.SyncData{
		VaultID:       vaultID,
		VaultName:     vaultName,
		EncryptedData: data,
		Timestamp:     timestampMS,
		Version:       nextVersion(meta),
		DeviceID:      deviceID,
	}
	sd.Checksum = sd.Fingerprint()

	logger.Info("pushing vault",
		"provider", p.Name(), "vault_id", vaultID, "bytes", len(data), "version", sd.Version)

	fileID, err := p.Upload(ctx, sd)
	if err != nil {
		return fmt.Errorf("uploading vault %q: %w", vaultID, err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.RecordPush(ctx, p.Name(), vaultID, timestampMS, sd.Checksum); err != nil {
		logger.Warn("recording push in journal", "error", err)
	}

	statusf("Pushed %s (%s) as %s.\n", vaultID, formatSize(int64(len(data))), fileID)

	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	vaultID := args[0]

	localPath := vaultID + ".vault"
	if len(args) > 1 {
		localPath = args[1]
	}

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	sd, err := p.Download(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("downloading vault %q: %w", vaultID, err)
	}

	if sd.Checksum != "" && sd.Checksum != sd.Fingerprint() {
		return fmt.Errorf("vault %q failed checksum verification after download", vaultID)
	}

	if err := writeFileAtomic(localPath, sd.EncryptedData); err != nil {
		return fmt.Errorf("writing vault file: %w", err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.RecordPull(ctx, p.Name(), vaultID, sd.Timestamp, sd.Checksum); err != nil {
		logger.Warn("recording pull in journal", "error", err)
	}

	logger.Info("pulled vault",
		"provider", p.Name(), "vault_id", vaultID, "bytes", len(sd.EncryptedData))
	statusf("Pulled %s (%s) to %s.\n", vaultID, formatSize(int64(len(sd.EncryptedData))), localPath)

	return nil
}

// writeFileAtomic writes the vault blob through a temp file and rename,
// so an interrupted pull never leaves a truncated vault behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".genpwd-sync-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return err
	}

	return os.Rename(tmpName, path)
}

// lsEntry is the JSON schema for `ls --json`.
type lsEntry struct {
	VaultID    string `json:"vault_id"`
	Size       int64  `json:"size"`
	ModifiedMS int64  `json:"modified_ms"`
	Checksum   string `json:"checksum,omitempty"`
	Version    string `json:"version,omitempty"`
}

func runLs(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	metas, err := p.List(ctx)
	if err != nil {
		return fmt.Errorf("listing vaults: %w", err)
	}

	if flagJSON {
		out := make([]lsEntry, 0, len(metas))
		for _, m := range metas {
			out = append(out, lsEntry{
				VaultID:    vault.VaultIDFromObject(m.FileName),
				Size:       m.Size,
				ModifiedMS: m.ModifiedTime,
				Checksum:   m.Checksum,
				Version:    m.Version,
			})
		}

		return printJSON(out)
	}

	if len(metas) == 0 {
		statusf("No vaults found.\n")

		return nil
	}

	var headers []string
	if stdoutIsTTY() {
		headers = []string{"VAULT", "SIZE", "MODIFIED"}
	}

	table := newTable(os.Stdout, headers)

	for _, m := range metas {
		table.Append([]string{
			vault.VaultIDFromObject(m.FileName),
			formatSize(m.Size),
			formatMillis(m.ModifiedTime),
		})
	}

	table.Render()

	return nil
}

func runRm(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	vaultID := args[0]

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := p.Metadata(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("looking up vault %q: %w", vaultID, err)
	}

	if meta == nil {
		statusf("Vault %s not found; nothing to delete.\n", vaultID)

		return nil
	}

	if err := p.Delete(ctx, meta.FileID); err != nil {
		return fmt.Errorf("deleting vault %q: %w", vaultID, err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.Forget(ctx, p.Name(), vaultID); err != nil {
		logger.Warn("removing journal entry", "error", err)
	}

	logger.Info("deleted vault", "provider", p.Name(), "vault_id", vaultID)
	statusf("Deleted %s.\n", vaultID)

	return nil
}

// statOutput is the JSON schema for `stat --json`.
type statOutput struct {
	VaultID     string `json:"vault_id"`
	Provider    string `json:"provider"`
	Size        int64  `json:"size"`
	ModifiedMS  int64  `json:"modified_ms"`
	Checksum    string `json:"checksum,omitempty"`
	Version     string `json:"version,omitempty"`
	LastPushMS  int64  `json:"last_push_ms,omitempty"`
	LastPullMS  int64  `json:"last_pull_ms,omitempty"`
	RemoteNewer bool   `json:"remote_newer"`
}

func runStat(_ *cobra.Command, args []string) error {
	logger := buildLogger()
	ctx := context.Background()

	vaultID := args[0]

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	meta, err := p.Metadata(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("looking up vault %q: %w", vaultID, err)
	}

	if meta == nil {
		return fmt.Errorf("vault %q not found on %s", vaultID, p.Name())
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	entry, err := j.Get(ctx, p.Name(), vaultID)
	if err != nil {
		logger.Warn("reading journal entry", "error", err)
	}

	out := statOutput{
		VaultID:    vaultID,
		Provider:   p.Name(),
		Size:       meta.Size,
		ModifiedMS: meta.ModifiedTime,
		Checksum:   meta.Checksum,
		Version:    meta.Version,
	}

	if entry != nil {
		out.LastPushMS = entry.LastPushMS
		out.LastPullMS = entry.LastPullMS
		out.RemoteNewer = vault.Newer(meta, max(entry.LastPushMS, entry.LastPullMS))
	} else {
		// Never synced from this machine; any remote copy counts as newer.
		out.RemoteNewer = true
	}

	if flagJSON {
		return printJSON(out)
	}

	fmt.Printf("Vault:     %s\n", out.VaultID)
	fmt.Printf("Provider:  %s\n", out.Provider)
	fmt.Printf("Size:      %s\n", formatSize(out.Size))
	fmt.Printf("Modified:  %s\n", formatMillis(out.ModifiedMS))

	if out.Checksum != "" {
		fmt.Printf("Checksum:  %s\n", out.Checksum)
	}

	if out.Version != "" {
		fmt.Printf("Version:   %s\n", out.Version)
	}

	fmt.Printf("Last push: %s\n", formatMillis(out.LastPushMS))
	fmt.Printf("Last pull: %s\n", formatMillis(out.LastPullMS))
	fmt.Printf("Remote newer: %v\n", out.RemoteNewer)

	return nil
}

// quotaOutput is the JSON schema for `quota --json`. Unknown values are
// reported as -1.
type quotaOutput struct {
	Provider   string `json:"provider"`
	TotalBytes int64  `json:"total_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
}

func runQuota(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	p, err := newProvider(ctx, logger)
	if err != nil {
		return err
	}

	q, err := p.Quota(ctx)
	if err != nil {
		return fmt.Errorf("fetching quota: %w", err)
	}

	if flagJSON {
		return printJSON(quotaOutput{
			Provider:   p.Name(),
			TotalBytes: q.TotalBytes,
			UsedBytes:  q.UsedBytes,
			FreeBytes:  q.FreeBytes,
		})
	}

	fmt.Printf("Provider: %s\n", p.Name())
	fmt.Printf("Total:    %s\n", formatQuotaValue(q.TotalBytes))
	fmt.Printf("Used:     %s\n", formatQuotaValue(q.UsedBytes))
	fmt.Printf("Free:     %s\n", formatQuotaValue(q.FreeBytes))

	return nil
}

// printJSON writes indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
