// Package loader turns application manifests into validated app images. A
// manifest and its binary are fetched through the abstract file system, the
// declared credential (a BLAKE2b digest or a keyed BLAKE2b MAC) is verified,
// and only then is the image eligible for a process slot.
package loader

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/scy"
	"golang.org/x/crypto/blake2b"

	"github.com/minoskernel/minos/model"
)

var (
	// ErrCredentialMismatch is returned when the image does not match its
	// declared digest or MAC.
	ErrCredentialMismatch = errors.New("loader: image credential mismatch")

	// ErrCredentialRequired is returned when the board demands signed
	// images and the manifest declares none.
	ErrCredentialRequired = errors.New("loader: image credential required")
)

// Config controls credential checking.
type Config struct {
	// RequireCredentials rejects manifests that declare neither a digest
	// nor a MAC.
	RequireCredentials bool `yaml:"requireCredentials,omitempty" json:"requireCredentials,omitempty"`

	// KeyURL locates the image-MAC key secret; required to verify
	// manifests that declare a MAC.
	KeyURL string `yaml:"keyURL,omitempty" json:"keyURL,omitempty"`
	// Key names the decryption key for the secret, e.g.
	// "blowfish://default".
	Key string `yaml:"key,omitempty" json:"key,omitempty"`
}

// Service loads and verifies application images.
type Service struct {
	fs      afs.Service
	secrets *scy.Service
	config  Config
	macKey  []byte
}

// New creates a loader.
func New(config Config) *Service {
	return &Service{
		fs:      afs.New(),
		secrets: scy.New(),
		config:  config,
	}
}

// Load fetches the manifest at URL, fetches its binary (relative to the
// manifest location), verifies credentials and returns the app.
func (s *Service) Load(ctx context.Context, manifestURL string) (*model.App, error) {
	data, err := s.fs.DownloadWithURL(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download manifest %v: %w", manifestURL, err)
	}
	manifest, err := model.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest %v: %w", manifestURL, err)
	}
	parent, _ := url.Split(manifestURL, file.Scheme)
	binaryURL := url.Join(parent, manifest.Binary)
	binary, err := s.fs.DownloadWithURL(ctx, binaryURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download binary %v: %w", binaryURL, err)
	}
	app, err := manifest.App(binary)
	if err != nil {
		return nil, err
	}
	if err = s.verify(ctx, app); err != nil {
		return nil, fmt.Errorf("app %q: %w", app.Name, err)
	}
	return app, nil
}

func (s *Service) verify(ctx context.Context, app *model.App) error {
	switch {
	case app.MAC != "":
		key, err := s.imageKey(ctx)
		if err != nil {
			return err
		}
		mac, err := blake2b.New256(key)
		if err != nil {
			return fmt.Errorf("failed to init image mac: %w", err)
		}
		mac.Write(app.Binary)
		return compareCredential(app.MAC, mac.Sum(nil))
	case app.Digest != "":
		sum := blake2b.Sum256(app.Binary)
		return compareCredential(app.Digest, sum[:])
	case s.config.RequireCredentials:
		return ErrCredentialRequired
	}
	return nil
}

// imageKey loads and caches the board's image-MAC key secret.
func (s *Service) imageKey(ctx context.Context) ([]byte, error) {
	if s.macKey != nil {
		return s.macKey, nil
	}
	if s.config.KeyURL == "" {
		return nil, fmt.Errorf("manifest declares a mac but no image key is configured")
	}
	resource := scy.NewResource(nil, s.config.KeyURL, s.config.Key)
	secret, err := s.secrets.Load(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to load image key from %v: %w", s.config.KeyURL, err)
	}
	s.macKey = []byte(secret.String())
	return s.macKey, nil
}

func compareCredential(declared string, actual []byte) error {
	want, err := hex.DecodeString(declared)
	if err != nil {
		return fmt.Errorf("%w: malformed credential", ErrCredentialMismatch)
	}
	if subtle.ConstantTimeCompare(want, actual) != 1 {
		return ErrCredentialMismatch
	}
	return nil
}
