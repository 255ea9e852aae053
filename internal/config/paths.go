package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const (
	dirName  = ".glone"
	fileName = "config.yaml"
	logName  = "app.log"
	envName  = ".env"
)

// Paths locates the files glone keeps in its configuration directory.
type Paths struct {
	Dir    string
	Config string
	Log    string
	Env    string
}

// DefaultPaths resolves the configuration directory under the user's XDG
// config home.
func DefaultPaths() Paths {
	return PathsIn(filepath.Join(xdg.ConfigHome, dirName))
}

func PathsIn(dir string) Paths {
	return Paths{
		Dir:    dir,
		Config: filepath.Join(dir, fileName),
		Log:    filepath.Join(dir, logName),
		Env:    filepath.Join(dir, envName),
	}
}

// WithConfig overrides the configuration file location. The log and dotenv
// files stay in the configuration directory.
func (p Paths) WithConfig(file string) Paths {
	if file != "" {
		p.Config = file
	}
	return p
}

// Bootstrap creates the configuration directory and an empty configuration
// file when they are missing. It reports whether the file was created.
func (p Paths) Bootstrap() (bool, error) {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory %s: %w", p.Dir, err)
	}

	f, err := os.OpenFile(p.Config, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to create config file %s: %w", p.Config, err)
	}

	return true, f.Close()
}

// Load reads the configuration file. A missing, empty or invalid file
// yields an empty Root together with the error, so callers can report the
// problem and carry on with zero providers.
func (p Paths) Load() (*Root, error) {
	root, err := ParseFile(p.Config)
	if err != nil {
		return &Root{}, err
	}
	return root, nil
}

// LoadEnv seeds the process environment from a dotenv file. Variables that
// are already set win. A missing default file is not an error.
func (p Paths) LoadEnv(file string) error {
	explicit := file != ""
	if !explicit {
		file = p.Env
	}

	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) && !explicit {
		return nil
	}

	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", file, err)
	}
	return nil
}
