package ingest

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codemapper/internal/safeio"
)

// maxArchiveEntryBytes guards against decompression bombs during extraction.
const maxArchiveEntryBytes = 8 << 20 // 8 MiB per entry

// commitSurrogate hashes the archive's base64 content. This is NOT a VCS
// commit id: repackaging identical content under a different byte layout
// yields a different key, which costs at most a redundant recomputation.
func commitSurrogate(archive []byte) string {
	b64 := base64.StdEncoding.EncodeToString(archive)
	sum := sha256.Sum256([]byte(b64))
	return hex.EncodeToString(sum[:])[:40]
}

// extractArchive unpacks a zip into a fresh temp directory and returns the
// effective root (unwrapping the single top-level directory of the common
// GitHub zipball shape) plus an idempotent cleanup func.
func extractArchive(archive []byte) (string, func(), error) {
	tmp, err := os.MkdirTemp("", "codemapper-*")
	if err != nil {
		return "", nil, err
	}
	var once sync.Once
	cleanup := func() { once.Do(func() { _ = os.RemoveAll(tmp) }) }

	if err := unpackZip(archive, tmp); err != nil {
		cleanup()
		return "", nil, err
	}

	root, err := effectiveRoot(tmp)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	return root, cleanup, nil
}

func unpackZip(archive []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("%w: not a zip archive", ErrInvalidInput)
	}
	fsys, err := safeio.NewSafeFS(dest)
	if err != nil {
		return err
	}

	for _, f := range zr.File {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		target, err := fsys.ResolveNew(name)
		if err != nil {
			// Entries escaping the extraction root are dropped, not fatal.
			continue
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeZipEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, io.LimitReader(rc, maxArchiveEntryBytes))
	return err
}

// effectiveRoot unwraps a lone top-level directory; otherwise the temp root
// itself is used.
func effectiveRoot(tmp string) (string, error) {
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(tmp, entries[0].Name()), nil
	}
	return tmp, nil
}
