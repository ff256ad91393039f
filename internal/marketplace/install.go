package marketplace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ragworks/raggo/internal/sandbox"
	raggerrors "github.com/ragworks/raggo/pkg/errors"
)

// Install downloads, verifies, and installs a plugin. The flow gates on
// certification and a security scan before any bytes land on disk, then
// verifies the archive digest and performs a sandboxed trial install. On
// any failure the install directory is left untouched.
func (c *Client) Install(ctx context.Context, pluginID string, opts InstallOptions) (*InstalledPlugin, error) {
	info, err := c.Info(ctx, pluginID)
	if err != nil {
		return nil, err
	}
	if opts.RequireCertified && info.Certification == nil {
		return nil, raggerrors.NewNotCertified(pluginID)
	}

	if !opts.SkipSecurityScan {
		manifest, err := c.fetchManifest(ctx, pluginID)
		if err != nil {
			return nil, err
		}
		if scan := sandbox.ScanManifest(manifest); scan.Risk == sandbox.RiskHigh {
			return nil, raggerrors.NewSecurityScanFailed(scan.Issues)
		}
	}

	downloadURL, err := c.signedDownloadURL(ctx, pluginID, opts.Version)
	if err != nil {
		return nil, err
	}
	archive, err := c.download(ctx, downloadURL)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(archive)
	actual := hex.EncodeToString(sum[:])
	if info.Checksums.SHA256 != "" && actual != info.Checksums.SHA256 {
		c.log.WithFields(map[string]any{"plugin": pluginID}).Warn("archive digest mismatch, rejecting install")
		return nil, raggerrors.NewIntegrityFailed(info.Checksums.SHA256, actual)
	}

	pluginDir := filepath.Join(c.pluginsRoot(), pluginID)
	trial := sandbox.RunInstall(ctx, func(ctx context.Context) error {
		return c.writeArchive(ctx, pluginDir, archive)
	}, opts.SandboxTimeout)
	if !trial.Success {
		os.RemoveAll(pluginDir)
		return nil, fmt.Errorf("sandboxed install failed: %s", trial.Error)
	}

	installed := &InstalledPlugin{
		ID:          pluginID,
		Name:        info.Name,
		Version:     info.Version,
		Kind:        info.Kind,
		InstallPath: pluginDir,
		Size:        int64(len(archive)),
		Checksums:   Checksums{SHA256: actual},
	}
	if err := c.persistMetadata(installed); err != nil {
		os.RemoveAll(pluginDir)
		return nil, err
	}

	c.analytics.record("plugin.installed", map[string]any{"pluginId": pluginID, "version": info.Version})
	c.log.WithFields(map[string]any{"plugin": pluginID, "version": info.Version}).Info("plugin installed")
	return installed, nil
}

// fetchManifest pulls the plugin manifest used by the security scanner.
func (c *Client) fetchManifest(ctx context.Context, pluginID string) (sandbox.Manifest, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/"+url.PathEscape(pluginID)+"/manifest", nil, nil)
	if err != nil {
		return sandbox.Manifest{}, err
	}
	var manifest sandbox.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return sandbox.Manifest{}, fmt.Errorf("decoding manifest: %w", err)
	}
	return manifest, nil
}

// signedDownloadURL asks the marketplace for a short-lived download link.
func (c *Client) signedDownloadURL(ctx context.Context, pluginID, version string) (string, error) {
	query := url.Values{}
	if version != "" {
		query.Set("version", version)
	}
	data, err := c.doRequest(ctx, http.MethodGet, "/plugins/"+url.PathEscape(pluginID)+"/download", query, nil)
	if err != nil {
		return "", err
	}
	var payload struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decoding download link: %w", err)
	}
	if payload.DownloadURL == "" {
		return "", fmt.Errorf("marketplace returned no download url for %s", pluginID)
	}
	return payload.DownloadURL, nil
}

// download fetches the plugin archive from the signed URL. Signed URLs
// are pre-authorized, so no Authorization header is attached.
func (c *Client) download(ctx context.Context, downloadURL string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive download failed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// writeArchive lays the plugin archive down under the install directory.
func (c *Client) writeArchive(ctx context.Context, pluginDir string, archive []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(pluginDir, "plugin.tar.gz"), archive, 0o644)
}

func (c *Client) persistMetadata(installed *InstalledPlugin) error {
	store, err := OpenStore(c.pluginsRoot())
	if err != nil {
		return err
	}
	return store.Put(*installed)
}

// packageManifest is the package.json subset publish validation reads.
type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	RAGPlugin    json.RawMessage   `json:"ragPlugin"`
}

// Publish validates a plugin directory, scans it, and uploads it. The
// package.json must carry a name, a version, and a ragPlugin section, and
// the security scan must not surface high-risk findings.
func (c *Client) Publish(ctx context.Context, pluginDir string) (PublishResult, error) {
	raw, err := os.ReadFile(filepath.Join(pluginDir, "package.json"))
	if err != nil {
		return PublishResult{}, fmt.Errorf("reading package.json: %w", err)
	}
	var pkg packageManifest
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return PublishResult{}, fmt.Errorf("parsing package.json: %w", err)
	}
	if pkg.Name == "" {
		return PublishResult{}, raggerrors.NewInvalidInput("package.json", "name is required")
	}
	if pkg.Version == "" {
		return PublishResult{}, raggerrors.NewInvalidInput("package.json", "version is required")
	}
	if len(pkg.RAGPlugin) == 0 || string(pkg.RAGPlugin) == "null" {
		return PublishResult{}, raggerrors.NewInvalidInput("package.json", "ragPlugin section is required")
	}

	scan := sandbox.ScanManifest(sandbox.Manifest{Name: pkg.Name, Dependencies: pkg.Dependencies})
	if scan.Risk == sandbox.RiskHigh {
		return PublishResult{}, raggerrors.NewSecurityScanFailed(scan.Issues)
	}

	body := map[string]any{
		"name":     pkg.Name,
		"version":  pkg.Version,
		"manifest": json.RawMessage(raw),
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/plugins/publish", nil, body)
	if err != nil {
		return PublishResult{}, err
	}

	var result PublishResult
	if err := json.Unmarshal(data, &result); err != nil {
		return PublishResult{}, fmt.Errorf("decoding publish response: %w", err)
	}

	c.analytics.record("plugin.published", map[string]any{"pluginId": result.PluginID, "version": result.Version})
	return result, nil
}
