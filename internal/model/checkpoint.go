package model

import "os"

// ResolveCheckpoint picks the checkpoint to load: the fine-tuned directory
// when it exists, otherwise the baseline.
func ResolveCheckpoint(fineTunedDir, baseline string) string {
	if fineTunedDir == "" {
		return baseline
	}
	info, err := os.Stat(fineTunedDir)
	if err != nil || !info.IsDir() {
		return baseline
	}
	return fineTunedDir
}
