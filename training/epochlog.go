package training

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/tsawler/segtrain/metrics"
)

// EpochLogHeader is the first line of every epoch log.
const EpochLogHeader = "epoch, train loss, val loss, train acc, val acc, miou"

// EpochLog is the append-only per-epoch CSV log of a run.
type EpochLog struct {
	path string
	file *os.File
}

// OpenEpochLog opens path for appending. The header is written only when the
// file is new or empty, so a resumed run keeps a single header.
func OpenEpochLog(path string) (*EpochLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open epoch log %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to stat epoch log %s", path)
	}

	log := &EpochLog{path: path, file: f}
	if info.Size() == 0 {
		if err := log.writeLine(EpochLogHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return log, nil
}

// Path returns the file the log is written to.
func (l *EpochLog) Path() string {
	return l.path
}

// Append writes one row and syncs it to disk before returning.
func (l *EpochLog) Append(e metrics.Epoch) error {
	return l.writeLine(fmt.Sprintf("%d, %.5f, %.5f, %.5f, %.5f, %.5f",
		e.Index, e.TrainLoss, e.ValLoss, e.TrainAcc, e.ValAcc, e.MIoU))
}

func (l *EpochLog) writeLine(line string) error {
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return errors.Wrapf(err, "failed to write epoch log %s", l.path)
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrapf(err, "failed to sync epoch log %s", l.path)
	}
	return nil
}

// Close closes the underlying file.
func (l *EpochLog) Close() error {
	return l.file.Close()
}
