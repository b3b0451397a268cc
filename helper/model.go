package helper

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
)

// SanitizeModelName turns a hub name like "org/model" into a directory name.
func SanitizeModelName(modelName string) string {
	return strings.ReplaceAll(modelName, "/", "_")
}

// PrepareModel downloads the model into modelDir unless it is already there
// and returns the local model path.
func PrepareModel(modelDir, modelName, onnxFilePath string) (string, error) {
	modelPath := filepath.Join(modelDir, SanitizeModelName(modelName))

	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	if onnxFilePath != "" {
		downloadOptions.OnnxFilePath = onnxFilePath
	}
	downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}

	return downloadedPath, nil
}
