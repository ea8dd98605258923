// Package profraw corrupts raw instrumentation profiles so that the coverage
// tool's header validation can be exercised deterministically.
//
// Only the 8-byte magic word is understood; the rest of the file is opaque.
package profraw

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lattice-substrate/cov-conformance/coverr"
)

// Magic64 is the header word of a 64-bit raw profile: 0xff followed by
// "lprofr" and 0x81.
const Magic64 uint64 = 255<<56 |
	uint64('l')<<48 |
	uint64('p')<<40 |
	uint64('r')<<32 |
	uint64('o')<<24 |
	uint64('f')<<16 |
	uint64('r')<<8 |
	129

// Ext is the raw profile file extension.
const Ext = ".profraw"

// HeaderSize is the width of the magic word in bytes.
const HeaderSize = 8

// TargetDir returns the build-output directory holding raw profiles.
func TargetDir(workspace string) string {
	return filepath.Join(workspace, "target", "llvm-cov-target")
}

// Find returns the first raw profile in the build-output directory of
// workspace, in name order. A missing directory means nothing to find.
func Find(workspace string) (string, bool, error) {
	dir := TargetDir(workspace)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read profile dir: %w", err)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && filepath.Ext(e.Name()) == Ext {
			return filepath.Join(dir, e.Name()), true, nil
		}
	}
	return "", false, nil
}

// PerturbOne corrupts the header of one raw profile in workspace and returns
// its path. When no profile exists nothing is touched and ok is false.
func PerturbOne(workspace string, logger *slog.Logger) (path string, ok bool, err error) {
	path, ok, err = Find(workspace)
	if err != nil || !ok {
		return "", false, err
	}
	if err := PerturbHeader(path); err != nil {
		return "", false, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("perturbed raw profile header", "path", path)
	return path, true, nil
}

// PerturbHeader increments the magic word of the raw profile at path by one,
// using the native byte order for both read and write-back.
//
// A header that is not Magic64 means the wrong file was selected; that is a
// programming fault and panics with a *coverr.Error of class ProfileMagic
// instead of mutating the file.
func PerturbHeader(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open raw profile: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var buf [HeaderSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return fmt.Errorf("read raw profile header: %w", err)
	}
	magic := binary.NativeEndian.Uint64(buf[:])
	if magic != Magic64 {
		panic(coverr.New(coverr.ProfileMagic, path,
			fmt.Sprintf("header %#016x is not the raw profile magic %#016x", magic, Magic64)))
	}
	magic++
	binary.NativeEndian.PutUint64(buf[:], magic)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind raw profile: %w", err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		return fmt.Errorf("write raw profile header: %w", err)
	}
	return f.Close()
}

// ReadMagic returns the header word of the file at path.
func ReadMagic(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Header returns the encoded magic word, as an instrumented binary would
// write it on this platform.
func Header() []byte {
	return binary.NativeEndian.AppendUint64(nil, Magic64)
}
