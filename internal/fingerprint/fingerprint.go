package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

// BlockSize is the fixed read size used when streaming file content
const BlockSize = 4096

// File returns the hex MD5 digest of the file at path. The digest depends on
// byte content only.
func File(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return sum, nil
}

// Reader folds r into an MD5 digest in BlockSize chunks
func Reader(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, BlockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
