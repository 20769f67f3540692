package loader

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
	"golang.org/x/crypto/blake2b"
)

func uploadApp(t *testing.T, baseURL, name, digest string, binary []byte) string {
	t.Helper()
	fs := afs.New()
	ctx := context.Background()
	manifest := fmt.Sprintf("name: %s\nbinary: %s.bin\nminRAM: 4K\nentry: \"0x0\"\n", name, name)
	if digest != "" {
		manifest += fmt.Sprintf("digest: %s\n", digest)
	}
	manifestURL := baseURL + "/" + name + ".yaml"
	assert.NoError(t, fs.Upload(ctx, manifestURL, 0o644, strings.NewReader(manifest)))
	assert.NoError(t, fs.Upload(ctx, baseURL+"/"+name+".bin", 0o644, strings.NewReader(string(binary))))
	return manifestURL
}

func TestService_LoadWithDigest(t *testing.T) {
	binary := []byte{0x01, 0x02, 0x03, 0x04}
	sum := blake2b.Sum256(binary)
	manifestURL := uploadApp(t, "mem://localhost/apps1", "blink", hex.EncodeToString(sum[:]), binary)

	s := New(Config{})
	app, err := s.Load(context.Background(), manifestURL)
	assert.NoError(t, err)
	assert.Equal(t, "blink", app.Name)
	assert.Equal(t, binary, app.Binary)
	assert.Equal(t, 4096, app.MinRAM)
}

func TestService_LoadDigestMismatch(t *testing.T) {
	binary := []byte{0x01, 0x02}
	wrong := blake2b.Sum256([]byte("other"))
	manifestURL := uploadApp(t, "mem://localhost/apps2", "blink", hex.EncodeToString(wrong[:]), binary)

	s := New(Config{})
	_, err := s.Load(context.Background(), manifestURL)
	assert.ErrorIs(t, err, ErrCredentialMismatch)
}

func TestService_LoadRequiresCredentials(t *testing.T) {
	binary := []byte{0x01}
	manifestURL := uploadApp(t, "mem://localhost/apps3", "blink", "", binary)

	relaxed := New(Config{})
	_, err := relaxed.Load(context.Background(), manifestURL)
	assert.NoError(t, err)

	strict := New(Config{RequireCredentials: true})
	_, err = strict.Load(context.Background(), manifestURL)
	assert.ErrorIs(t, err, ErrCredentialRequired)
}

func TestService_LoadMACNeedsKey(t *testing.T) {
	fs := afs.New()
	ctx := context.Background()
	manifest := "name: blink\nbinary: blink.bin\nminRAM: 4K\nmac: ff00\n"
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps4/blink.yaml", 0o644, strings.NewReader(manifest)))
	assert.NoError(t, fs.Upload(ctx, "mem://localhost/apps4/blink.bin", 0o644, strings.NewReader("x")))

	s := New(Config{})
	_, err := s.Load(ctx, "mem://localhost/apps4/blink.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "image key")
}

func TestService_LoadMissingManifest(t *testing.T) {
	s := New(Config{})
	_, err := s.Load(context.Background(), "mem://localhost/apps5/none.yaml")
	assert.Error(t, err)
}
