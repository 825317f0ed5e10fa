package cfg

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/finflow-gateway/internal/xerrors"
)

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables that are already set win, and a missing file is not an error.
func LoadDotEnv(path string) (loaded bool, err error) {
	if path == "" {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, xerrors.Wrapf(err, "load env file %s", path)
	}
	return true, nil
}
