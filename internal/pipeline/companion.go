package pipeline

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// CompanionScript is the name of the post-processing script placed in the
// output directory.
const CompanionScript = "recompress.sh"

//go:embed recompress.sh
var companionScript []byte

// WriteCompanion writes the post-processing script into dir unless a file
// with that name is already there. It reports whether it wrote one.
func WriteCompanion(dir string) (bool, error) {
	path := filepath.Join(dir, CompanionScript)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o755)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := f.Write(companionScript); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
