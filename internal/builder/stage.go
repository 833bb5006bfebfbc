package builder

import (
	"bytes"
	"crypto"
	_ "crypto/sha256" // Registers the staging hash.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
)

const (
	// stagingHash is the digest Options.Checksum is expressed in.
	stagingHash = crypto.SHA256
	// stagedFileMode is the mode of the staged image copy.
	stagedFileMode os.FileMode = 0o600
)

var (
	// ErrChecksumMismatch is returned when the source does not match Options.Checksum.
	ErrChecksumMismatch = errors.New("source checksum mismatch")

	errInvalidChecksum = errors.New("invalid checksum")
	errHashUnavailable = errors.New("hash function unavailable")
)

// decodeChecksum parses a hex digest of the staging hash.
func decodeChecksum(checksum string) ([]byte, error) {
	digest, err := hex.DecodeString(checksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidChecksum, err)
	}

	if len(digest) != stagingHash.Size() {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", errInvalidChecksum, stagingHash.Size(), len(digest))
	}

	return digest, nil
}

// stageSource copies source into a fresh directory under tempDir and verifies
// it against checksum on the way. Both the directory and the copy are tracked
// in state; the returned path is the staged copy.
func stageSource(state *BuildState, tempDir, source, checksum string) (string, error) {
	if !stagingHash.Available() {
		return "", errHashUnavailable
	}

	digest, err := decodeChecksum(checksum)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(tempDir, "carrus-stage-")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	state.AddTempFile(dir)

	target := filepath.Join(dir, filepath.Base(source))

	// go-update replaces an existing target, so an empty one is created first.
	if err = os.WriteFile(target, nil, stagedFileMode); err != nil {
		return "", fmt.Errorf("create staged copy: %w", err)
	}

	state.AddTempFile(target)

	file, err := os.Open(filepath.Clean(source))
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer file.Close()

	hasher := stagingHash.New()

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: stagedFileMode,
		Checksum:   digest,
		Hash:       stagingHash,
	}

	if err = goupdate.Apply(io.TeeReader(file, hasher), options); err != nil {
		if actual := hasher.Sum(nil); !bytes.Equal(actual, digest) {
			return "", fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, hex.EncodeToString(digest), hex.EncodeToString(actual))
		}

		return "", fmt.Errorf("stage source: %w", err)
	}

	return target, nil
}
