// Package credentials turns a provider's auth policy into a strategy that
// supplies credentials to the git transport when the remote asks for them.
package credentials

import (
	"errors"
	"fmt"
	gohttp "net/http"
	"os"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/enmesarru/glone/internal/config"
	"github.com/enmesarru/glone/internal/logging"
)

// Prefix must start both environment variable names of a token policy.
const Prefix = "_"

var (
	ErrMissingCredentialEnvVar = errors.New("credential environment variable is not set")
	ErrAuthRequired            = errors.New("remote requires authentication")
	ErrAuthRejected            = errors.New("credentials rejected")
)

// Strategy supplies credentials for one provider.
type Strategy interface {
	Name() string
	// Check verifies, without touching the network, that the strategy can
	// produce credentials.
	Check() error
	// AuthMethod returns the transport auth method for the remote URL.
	AuthMethod(remoteURL string) (transport.AuthMethod, error)
}

type Resolver struct {
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
	log       *logging.Logger
}

type Option func(*Resolver)

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

func WithLogger(log *logging.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
		log:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve picks the strategy for the policy. A nil strategy means anonymous
// transport: public providers, and token providers whose variable names lack
// the prefix. The environment is never read here.
func (r *Resolver) Resolve(auth *config.Auth) (Strategy, error) {
	switch auth.Type {
	case config.AuthToken:
		username, password, err := auth.TokenVars()
		if err != nil {
			return nil, err
		}
		if !ValidTokenVars(username, password) {
			r.log.Warnf("token variables %q and %q must start with %q, continuing without credentials", username, password, Prefix)
			return nil, nil
		}
		return &tokenStrategy{username: username, password: password, lookupEnv: r.lookupEnv}, nil

	case config.AuthSSH:
		path, err := auth.KeyPath()
		if err != nil {
			return nil, err
		}
		return &sshStrategy{path: path, readFile: r.readFile}, nil

	case config.AuthPublic:
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unknown auth type %q", config.ErrInvalid, auth.Type)
	}
}

func ValidTokenVars(username, password string) bool {
	return strings.HasPrefix(username, Prefix) && strings.HasPrefix(password, Prefix)
}

type tokenStrategy struct {
	username  string
	password  string
	lookupEnv func(string) (string, bool)
}

func (*tokenStrategy) Name() string {
	return "token"
}

func (s *tokenStrategy) Check() error {
	for _, name := range []string{s.username, s.password} {
		if _, ok := s.lookupEnv(name); !ok {
			return fmt.Errorf("%w: %s", ErrMissingCredentialEnvVar, name)
		}
	}
	return nil
}

func (s *tokenStrategy) AuthMethod(string) (transport.AuthMethod, error) {
	return &envBasicAuth{username: s.username, password: s.password, lookupEnv: s.lookupEnv}, nil
}

// envBasicAuth provides HTTP basic authentication whose values are read from
// the environment each time the transport authenticates a request.
type envBasicAuth struct {
	username  string
	password  string
	lookupEnv func(string) (string, bool)
}

func (a *envBasicAuth) String() string {
	return fmt.Sprintf("%s - $%s:$%s", a.Name(), a.username, a.password)
}

func (*envBasicAuth) Name() string {
	return "http-basic-auth-env"
}

func (a *envBasicAuth) SetAuth(r *gohttp.Request) {
	username, _ := a.lookupEnv(a.username)
	password, ok := a.lookupEnv(a.password)
	if !ok {
		// Unset since Check: send nothing and let the remote reject us.
		return
	}
	r.SetBasicAuth(username, password)
}

type sshStrategy struct {
	path     string
	readFile func(string) ([]byte, error)
}

func (*sshStrategy) Name() string {
	return "ssh"
}

func (s *sshStrategy) Check() error {
	_, err := s.signer()
	return err
}

func (s *sshStrategy) signer() (ssh.Signer, error) {
	key, err := s.readFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh key %s: %w", ErrAuthRejected, s.path, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh key %s: %w", ErrAuthRejected, s.path, err)
	}
	return signer, nil
}

// AuthMethod uses the username carried by the remote URL, as in
// git@github.com:org/repo.git.
func (s *sshStrategy) AuthMethod(remoteURL string) (transport.AuthMethod, error) {
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if ep.User == "" {
		return nil, fmt.Errorf("%w: remote url %s carries no ssh username", ErrAuthRejected, remoteURL)
	}

	signer, err := s.signer()
	if err != nil {
		return nil, err
	}

	return &gitssh.PublicKeys{User: ep.User, Signer: signer}, nil
}
