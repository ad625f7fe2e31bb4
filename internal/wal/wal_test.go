package wal

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T, cfg Config) *WAL {
	t.Helper()
	w, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := openTestWAL(t, Config{Dir: dir, SyncMode: Async})

	s1, err := w.Append(1, []byte("a"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	s2, err := w.Append(1, []byte("b"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if s1 != 1 || s2 != 2 {
		t.Errorf("seqs = %d, %d, want 1, 2", s1, s2)
	}
}

func TestReplayReturnsAppendedRecordsInOrder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := openTestWAL(t, Config{Dir: dir, SyncMode: Fsync})

	payloads := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, p := range payloads {
		if _, err := w.Append(7, p); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(Config{Dir: dir, SyncMode: Fsync})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	var got []Record
	if err := w2.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if len(got) != len(payloads) {
		t.Fatalf("replayed %d records, want %d", len(got), len(payloads))
	}
	for i, r := range got {
		if r.Seq != uint64(i+1) {
			t.Errorf("record %d seq = %d, want %d", i, r.Seq, i+1)
		}
		if r.Type != 7 {
			t.Errorf("record %d type = %d, want 7", i, r.Type)
		}
		if string(r.Payload) != string(payloads[i]) {
			t.Errorf("record %d payload = %q, want %q", i, r.Payload, payloads[i])
		}
	}
}

func TestRecoverRestoresLastSequenceAcrossReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := openTestWAL(t, Config{Dir: dir, SyncMode: Fsync})
	for i := 0; i < 5; i++ {
		if _, err := w.Append(1, []byte("x")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(Config{Dir: dir, SyncMode: Fsync})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer w2.Close()

	if got := w2.LastSequence(); got != 5 {
		t.Errorf("LastSequence() = %d, want 5", got)
	}

	seq, err := w2.Append(1, []byte("y"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 6 {
		t.Errorf("next seq = %d, want 6", seq)
	}
}

func TestRolloverCreatesNewSegmentFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// tiny SegmentMaxSize forces a rollover after the very first record.
	w := openTestWAL(t, Config{Dir: dir, SyncMode: Async, SegmentMaxSize: 1})

	if _, err := w.Append(1, []byte("aaaa")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(1, []byte("bbbb")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := segmentFiles(t, dir); err != nil {
		t.Fatalf("glob: %v", err)
	}
}

func segmentFiles(t *testing.T, dir string) ([]string, error) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if err != nil {
		return nil, err
	}
	if len(matches) < 2 {
		t.Errorf("expected at least 2 segment files after rollover, got %d: %v", len(matches), matches)
	}
	return matches, nil
}

// TestOpenTruncatesCorruptTailAndRecoversPrefix exercises spec.md §6's
// crash-recovery contract: a corrupt record stops recovery, truncates
// the segment at the last good record boundary, and Open still
// succeeds with everything decoded before the corrupt record intact.
func TestOpenTruncatesCorruptTailAndRecoversPrefix(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := openTestWAL(t, Config{Dir: dir, SyncMode: Fsync})
	if _, err := w.Append(1, []byte("first")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(1, []byte("second")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := w.Append(1, []byte("third")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "wal-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(matches))
	}
	sizeBefore := fileSize(t, matches[0])
	corruptLastByte(t, matches[0]) // lands in the final record's checksum

	w2, err := Open(Config{Dir: dir, SyncMode: Fsync})
	if err != nil {
		t.Fatalf("Open should recover the valid prefix, not fail: %v", err)
	}
	defer w2.Close()

	if got := w2.LastSequence(); got != 2 {
		t.Errorf("LastSequence() = %d, want 2 (the corrupt third record must not count)", got)
	}
	if got := fileSize(t, matches[0]); got >= sizeBefore {
		t.Errorf("segment size = %d, want truncated below original %d", got, sizeBefore)
	}

	var got []Record
	if err := w2.Replay(func(r Record) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	want := []string{"first", "second"}
	if len(got) != len(want) {
		t.Fatalf("replayed %d records, want %d", len(got), len(want))
	}
	for i, r := range got {
		if string(r.Payload) != want[i] {
			t.Errorf("record %d payload = %q, want %q", i, r.Payload, want[i])
		}
	}

	// operation continues normally after recovery: the next append picks
	// up right after the recovered prefix.
	seq, err := w2.Append(1, []byte("fourth"))
	if err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	if seq != 3 {
		t.Errorf("next seq after recovery = %d, want 3", seq)
	}
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	return info.Size()
}

func corruptLastByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) == 0 {
		t.Fatalf("%s is empty", path)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
