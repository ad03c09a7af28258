package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facerange/pkg/logging"
	"github.com/MrCodeEU/facerange/pkg/recognition"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var modelBaseURL = "http://dlib.net/files/"

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the dlib model bundles",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [dir]",
	Short: "Download the detector, landmark and descriptor models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}
		return downloadModels(cmd.Context(), modelDir)
	},
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check [dir]",
	Short: "Verify that every model bundle is present",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Recognition.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}
		if err := recognition.CheckModels(modelDir); err != nil {
			return err
		}
		fmt.Printf("All models present in %s\n", modelDir)
		return nil
	},
}

func init() {
	modelsCmd.AddCommand(modelsDownloadCmd, modelsCheckCmd)
}

func downloadModels(ctx context.Context, modelDir string) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, name := range recognition.RequiredModels {
		targetPath := filepath.Join(modelDir, name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", name)
			continue
		}

		logging.Infof("Downloading %s...", name)
		if err := downloadAndExtract(ctx, modelBaseURL+name+".bz2", targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
		logging.Infof("Successfully downloaded %s", name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

// downloadAndExtract fetches a bzip2 archive and writes the decompressed
// content to targetPath. The file only appears once it is complete.
func downloadAndExtract(ctx context.Context, url, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), filepath.Base(targetPath)+".*.part")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(url))
	body := io.TeeReader(resp.Body, bar)

	if _, err := io.Copy(tmp, bzip2.NewReader(body)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), targetPath)
}
