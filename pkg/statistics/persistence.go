package statistics

import (
	"encoding/json"
	"fmt"
	"os"
)

// saveSnapshot writes snap to path as JSON, overwriting any existing
// file. Grounded in the original's StatisticsInformationEvent::save_to_file.
func saveSnapshot(path string, snap Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("statistics: create save file %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("statistics: encode snapshot to %s: %w", path, err)
	}
	return nil
}

// loadSnapshot reads a previously saved snapshot back. A missing file
// is expected on first start and is returned as a plain error for the
// caller to ignore, not logged as a failure.
func loadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("statistics: open save file %s: %w", path, err)
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("statistics: decode snapshot from %s: %w", path, err)
	}
	return snap, nil
}
