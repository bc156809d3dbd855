package sharedstate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"

	"github.com/egsm/perftrace/internal/domain/trace"
)

// ErrCorrupt means the shared file exists but does not decode.
var ErrCorrupt = errors.New("shared state file is corrupt")

// codec sorts map keys so snapshots diff cleanly.
var codec = sonic.ConfigStd

// ReadFile decodes the shared file. A missing file is an empty snapshot.
func ReadFile(path string) (map[string]trace.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]trace.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading shared state: %w", err)
	}
	return Decode(data)
}

// Decode parses snapshot bytes. Empty input is an empty snapshot.
func Decode(data []byte) (map[string]trace.Record, error) {
	records := map[string]trace.Record{}
	if len(data) == 0 {
		return records, nil
	}
	if err := codec.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for cid, rec := range records {
		if rec.CorrelationID == "" {
			rec.CorrelationID = cid
			records[cid] = rec
		}
	}
	return records, nil
}

// Encode renders records as the shared-file object.
func Encode(records []trace.Record) ([]byte, error) {
	byID := make(map[string]trace.Record, len(records))
	for _, rec := range records {
		byID[rec.CorrelationID] = rec
	}
	data, err := codec.MarshalIndent(byID, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding shared state: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile atomically replaces path with data: write to a unique
// temporary file in the same directory, fsync, rename. Readers in other
// processes never observe a partial file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	file, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary shared state file: %w", err)
	}
	tmp := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temporary shared state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temporary shared state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temporary shared state file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("setting shared state file mode: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming shared state file into place: %w", err)
	}
	return nil
}
