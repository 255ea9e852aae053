package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"
)

// Internal configuration data structures for glone.

var (
	// ErrInvalid marks every semantic configuration problem. Callers map it
	// to a per-provider ConfigInvalid outcome.
	ErrInvalid = errors.New("invalid configuration")

	// ErrEmpty is returned when the configuration file holds no content.
	ErrEmpty = errors.New("configuration file is empty")
)

// Root is the top-level configuration structure used by glone.
type Root struct {
	Providers    Providers `json:"providers,omitempty"`
	Concurrency  int       `json:"concurrency,omitempty" minimum:"1"`
	FetchTimeout Duration  `json:"fetch_timeout,omitzero"`
	Interval     Duration  `json:"interval,omitzero"`
	Retries      int       `json:"retries,omitempty" minimum:"0"`

	_ struct{} `additionalProperties:"false"`
}

// Match returns the providers whose names match at least one of the glob
// patterns, preserving configuration order. No patterns means all providers.
func (r *Root) Match(patterns []string) ([]*Provider, error) {
	if len(patterns) == 0 {
		return r.Providers, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid provider pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}

	var matched []*Provider
	for _, p := range r.Providers {
		if slices.ContainsFunc(globs, func(g glob.Glob) bool { return g.Match(p.Name) }) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

// Provider is one synchronization target.
type Provider struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Branch  string `json:"branch"`
	SyncDir string `json:"sync_dir"`
	Auth    Auth   `json:"auth"`

	_ struct{} `additionalProperties:"false"`
}

// Validate checks the provider fields that the schema cannot express. A
// failure concerns this provider only.
func (p *Provider) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(p.URL) == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if err := validateBranch(p.Branch); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(p.SyncDir) == "" {
		errs = append(errs, errors.New("sync_dir is required"))
	}
	if err := p.Auth.validate(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: provider %q: %w", ErrInvalid, p.Name, err)
	}
	return nil
}

func validateBranch(branch string) error {
	switch {
	case branch == "":
		return errors.New("branch is required")
	case strings.HasPrefix(branch, "-"), strings.HasPrefix(branch, "/"), strings.HasSuffix(branch, "/"):
		return fmt.Errorf("branch %q is not a valid branch name", branch)
	case strings.HasPrefix(branch, "refs/"):
		return fmt.Errorf("branch %q must be a short branch name", branch)
	case strings.Contains(branch, ".."), strings.ContainsAny(branch, " ~^:?*[\\"), strings.HasSuffix(branch, ".lock"):
		return fmt.Errorf("branch %q is not a valid branch name", branch)
	}
	return nil
}

func (p *Provider) Equal(other *Provider) bool {
	return fastEqual(p, other, func(p, other *Provider) bool {
		return p.Name == other.Name &&
			p.URL == other.URL &&
			p.Branch == other.Branch &&
			p.SyncDir == other.SyncDir &&
			p.Auth.Equal(&other.Auth)
	})
}

type Providers []*Provider

func (a Providers) Equal(b Providers) bool {
	return setEqual(a, b, func(p *Provider) string { return p.Name }, (*Provider).Equal)
}

// Names lists provider names in configuration order.
func (a Providers) Names() []string {
	names := make([]string, 0, len(a))
	for _, p := range a {
		names = append(names, p.Name)
	}
	return names
}

type AuthType string

const (
	AuthToken  AuthType = "token"
	AuthSSH    AuthType = "ssh"
	AuthPublic AuthType = "public"
)

// Auth is the credential policy of a provider. For token auth, Username and
// Password hold the names of environment variables, never their values. SSH
// auth reads the private key from Path.
type Auth struct {
	Type     AuthType `json:"type" enum:"token,ssh,public"`
	Username *string  `json:"username,omitempty"`
	Password *string  `json:"password,omitempty"`
	Path     *string  `json:"path,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

func (a *Auth) validate() error {
	switch a.Type {
	case AuthToken:
		_, _, err := a.TokenVars()
		return err
	case AuthSSH:
		_, err := a.KeyPath()
		return err
	case AuthPublic:
		return nil
	case "":
		return errors.New("auth.type is required")
	default:
		return fmt.Errorf("unknown auth.type %q", a.Type)
	}
}

// TokenVars returns the environment variable names of a token policy.
func (a *Auth) TokenVars() (username, password string, err error) {
	if a.Type != AuthToken {
		return "", "", fmt.Errorf("%w: token variables requested for %q auth", ErrInvalid, a.Type)
	}
	if a.Username == nil || *a.Username == "" {
		return "", "", fmt.Errorf("%w: token auth requires username", ErrInvalid)
	}
	if a.Password == nil || *a.Password == "" {
		return "", "", fmt.Errorf("%w: token auth requires password", ErrInvalid)
	}
	return *a.Username, *a.Password, nil
}

// KeyPath returns the private key path of an ssh policy.
func (a *Auth) KeyPath() (string, error) {
	if a.Type != AuthSSH {
		return "", fmt.Errorf("%w: key path requested for %q auth", ErrInvalid, a.Type)
	}
	if a.Path == nil || *a.Path == "" {
		return "", fmt.Errorf("%w: ssh auth requires path", ErrInvalid)
	}
	return *a.Path, nil
}

func (a *Auth) Equal(other *Auth) bool {
	return fastEqual(a, other, func(a, other *Auth) bool {
		return a.Type == other.Type &&
			stringPtrEqual(a.Username, other.Username) &&
			stringPtrEqual(a.Password, other.Password) &&
			stringPtrEqual(a.Path, other.Path)
	})
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

func ParseFile(filename string) (root *Root, err error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

func Parse(bs []byte) (*Root, error) {
	if len(bytes.TrimSpace(bs)) == 0 {
		return nil, ErrEmpty
	}

	if err := Validate(bs); err != nil {
		return nil, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, p := range root.Providers {
		if p == nil {
			root.Providers[i] = &Provider{}
		}
	}

	return &root, nil
}

func setEqual[K comparable, V any](a, b []V, key func(V) K, eq func(a, b V) bool) bool {
	if len(a) == 1 && len(b) == 1 {
		return eq(a[0], b[0])
	}

	m := make(map[K]V, len(a))
	for _, v := range a {
		m[key(v)] = v
	}

	n := make(map[K]V, len(b))
	for _, v := range b {
		n[key(v)] = v
	}

	return maps.EqualFunc(m, n, eq)
}

func stringPtrEqual(a, b *string) bool {
	return fastEqual(a, b, func(a, b *string) bool { return *a == *b })
}

func fastEqual[V any](a, b *V, slowEqual func(a, b *V) bool) bool {
	if a == b {
		return true
	}

	if a == nil || b == nil {
		return false
	}

	return slowEqual(a, b)
}
