// Package backup implements EpochDB's portable backup format: a zip
// archive holding one compressed entry, data.epoch, containing every
// key/value/metadata record as a simple length-prefixed stream.
package backup

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/epochdb/epochdb/internal/epocherr"
	"github.com/epochdb/epochdb/internal/metadata"
	"github.com/epochdb/epochdb/internal/metrics"
	"github.com/epochdb/epochdb/internal/store"
)

// entryName is the single archive member every backup writes its records
// into, matching the on-disk format this package reads back.
const entryName = "data.epoch"

// zstdMethod is the zip compression method id this package registers for
// zstd, following the convention some zip implementations use for it
// (WinZip's "enhanced deflate" range is avoided; 93 is the id libzip and
// 7-Zip recognize for zstd).
const zstdMethod = 93

var registerOnce sync.Once

func registerZstd() {
	registerOnce.Do(func() {
		zip.RegisterCompressor(zstdMethod, func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		})
		zip.RegisterDecompressor(zstdMethod, func(r io.Reader) io.ReadCloser {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return io.NopCloser(errReader{err})
			}
			return zr.IOReadCloser()
		})
	})
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// To flushes db and writes a new backup archive into dir, returning the
// archive's path. The filename is backup-YYYY-MM-DD_HH-MM-SS.zip in local
// time, matching the original tool's naming.
func To(db *store.DB, dir string, sink metrics.Sink) (string, error) {
	registerZstd()

	if err := db.Flush(); err != nil {
		return "", err
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &epocherr.FolderNotFoundError{Path: dir}
	}

	name := fmt.Sprintf("backup-%s.zip", time.Now().Format("2006-01-02_15-04-05"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", &epocherr.FolderNotFoundError{Path: dir}
	}

	zw := zip.NewWriter(f)
	entry, err := zw.CreateHeader(&zip.FileHeader{Name: entryName, Method: zstdMethod})
	if err != nil {
		_ = f.Close()
		return "", &epocherr.ZipError{Err: err}
	}

	iterErr := db.Iterate(func(key, val []byte, meta metadata.Metadata) error {
		return writeRecord(entry, key, val, meta.Encode())
	})
	if iterErr != nil {
		_ = zw.Close()
		_ = f.Close()
		return "", iterErr
	}

	if err := zw.Close(); err != nil {
		_ = f.Close()
		return "", &epocherr.ZipError{Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &epocherr.IOError{Err: err}
	}

	size, err := os.Stat(path)
	if err != nil {
		return "", &epocherr.IOError{Err: err}
	}
	if sink != nil {
		sink.SetBackupSizeBytes(float64(size.Size()))
	}

	return path, nil
}

func writeRecord(w io.Writer, key, val, meta []byte) error {
	for _, part := range [][]byte{key, val, meta} {
		if err := writeLenPrefixed(w, part); err != nil {
			return err
		}
	}
	return nil
}

func writeLenPrefixed(w io.Writer, data []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return &epocherr.IOError{Err: err}
	}
	if _, err := w.Write(data); err != nil {
		return &epocherr.IOError{Err: err}
	}
	return nil
}

// From opens the archive at archivePath, creates (or opens) a fresh
// database at dbPath, and replays every record into it. Restore is
// explicitly not transactional: a crash partway through leaves the
// target database holding whatever records were written before the
// interruption.
func From(archivePath, dbPath string) (*store.DB, error) {
	registerZstd()

	if info, err := os.Stat(archivePath); err != nil || info.IsDir() {
		return nil, &epocherr.FolderNotFoundError{Path: archivePath}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}

	archive, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, &epocherr.ZipError{Err: err}
	}
	defer archive.Close()

	var entry *zip.File
	for _, f := range archive.File {
		if f.Name == entryName {
			entry = f
			break
		}
	}
	if entry == nil {
		return nil, &epocherr.FileNameDoesntExistError{}
	}

	r, err := entry.Open()
	if err != nil {
		return nil, &epocherr.ZipError{Err: err}
	}
	defer r.Close()

	for {
		key, err := readLenPrefixed(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		val, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		rawMeta, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		meta, err := metadata.Decode(rawMeta)
		if err != nil {
			return nil, err
		}
		if err := db.RestoreEntry(key, val, meta); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &epocherr.IOError{Err: err}
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, &epocherr.IOError{Err: err}
	}
	return data, nil
}
