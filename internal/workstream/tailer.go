package workstream

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"time"

	"github.com/bosunhq/bosun/internal/logx"
)

// tailer incrementally reads complete lines appended to path, tolerating
// truncation (offset resets to 0) and deletion/rotation (waits and retries).
// Each read advances the offset by exactly the number of bytes in the
// consumed complete lines; a trailing partial line (no trailing \n) is left
// for the next tick so a write-in-progress is never split mid-line.
type tailer struct {
	path   string
	offset int64
}

func newTailer(path string, replayFromZero bool) (*tailer, error) {
	t := &tailer{path: path}
	if replayFromZero {
		t.offset = 0
		return t, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	t.offset = fi.Size()
	return t, nil
}

// poll reads any complete new lines since the last offset and returns them.
// It never returns an error for a missing file — the caller should simply
// retry on the next tick (rotation-tolerant).
func (t *tailer) poll() ([][]byte, error) {
	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < t.offset {
		logx.WarnCF("workstream", "log truncated, resetting offset", map[string]any{"path": t.path})
		t.offset = 0
	}
	if fi.Size() == t.offset {
		return nil, nil
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(f)
	var lines [][]byte
	var consumed int64
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Partial trailing line (no newline yet) — do not count as
			// consumed, so the next poll picks it up whole.
			break
		}
		if err != nil {
			return nil, err
		}
		consumed += int64(len(line))
		lines = append(lines, bytes.TrimRight(line, "\n"))
	}
	t.offset += consumed
	return lines, nil
}

// pollBatched is a convenience used by RunLoop's starvation-control batching:
// it bounds the number of lines handled per call so a burst cannot monopolize
// the watcher; the remainder is picked up on the next tick.
func (t *tailer) pollBatched(maxBatch int) ([][]byte, error) {
	lines, err := t.poll()
	if err != nil || len(lines) <= maxBatch {
		return lines, err
	}
	leftover := lines[maxBatch:]
	var leftoverBytes int64
	for _, l := range leftover {
		leftoverBytes += int64(len(l)) + 1
	}
	t.offset -= leftoverBytes
	return lines[:maxBatch], nil
}

const defaultPollInterval = 500 * time.Millisecond
