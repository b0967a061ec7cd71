package env

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadFiles loads each dotenv file in turn. Missing files are skipped, so a
// host with only .env.local still gets it. Variables already set are kept,
// and an earlier file wins over a later one.
func LoadFiles(paths ...string) error {
	var errs []error
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
