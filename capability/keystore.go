package capability

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"kepler.host/kepler/did"
)

// KeyStore is a local-first, filesystem-backed key manager for development
// and testing use, grounded on the teacher's keys.KeyStore: one root Ed25519
// seed per identity, with deterministically derived role subkeys. Not
// intended as a production KMS.
type KeyStore struct {
	Directory string
}

func DefaultKeyDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".kepler", "keys"), nil
}

func NewKeyStore(directory string) (*KeyStore, error) {
	if directory == "" {
		var err error
		directory, err = DefaultKeyDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &KeyStore{Directory: directory}, nil
}

func (ks *KeyStore) rootKeyPath(identifier string) string {
	return filepath.Join(ks.Directory, identifier, "root.key")
}

func (ks *KeyStore) roleKeyPath(identifier, role string) string {
	return filepath.Join(ks.Directory, identifier, "roles", role+".key")
}

func CheckIdentifier(s string) error {
	if s == "" {
		return errors.New("identifier cannot be empty")
	}
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' || c == '_' {
			continue
		}
		return fmt.Errorf("invalid character %q in identifier", c)
	}
	return nil
}

func (ks *KeyStore) saveSeed(path string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("expected seed length %d, got %d", ed25519.SeedSize, len(seed))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		return err
	}
	return f.Close()
}

func (ks *KeyStore) loadSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: expected seed length %d, got %d", path, ed25519.SeedSize, len(raw))
	}
	return raw, nil
}

// DeriveRoleSeed deterministically derives a role-specific Ed25519 seed from
// a root seed, so the same role always yields the same subkey.
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckIdentifier(role); err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write(rootSeed)
	h.Write([]byte{0})
	h.Write([]byte("kepler-keystore-v1"))
	h.Write([]byte{0})
	h.Write([]byte("role:"))
	h.Write([]byte(role))
	sum := h.Sum(nil)
	out := make([]byte, ed25519.SeedSize)
	copy(out, sum[:ed25519.SeedSize])
	return out, nil
}

// InitRootKey generates (or imports, via seed) a root Ed25519 identity and
// returns its did:key identifier.
func (ks *KeyStore) InitRootKey(identifier string, seed []byte, overwrite bool) (string, error) {
	if err := CheckIdentifier(identifier); err != nil {
		return "", err
	}
	if seed == nil {
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return "", err
		}
	}
	if err := ks.saveSeed(ks.rootKeyPath(identifier), seed, overwrite); err != nil {
		return "", err
	}
	return didForSeed(seed)
}

// DeriveRoleKey derives and persists a role subkey under identifier,
// returning its did:key identifier.
func (ks *KeyStore) DeriveRoleKey(identifier, role string, overwrite bool) (string, error) {
	rootSeed, err := ks.loadSeed(ks.rootKeyPath(identifier))
	if err != nil {
		return "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", err
	}
	if err := ks.saveSeed(ks.roleKeyPath(identifier, role), roleSeed, overwrite); err != nil {
		return "", err
	}
	return didForSeed(roleSeed)
}

// Signer returns a Signer for identifier's root key, or its role subkey
// when role is non-empty.
func (ks *KeyStore) Signer(identifier, role string) (*Signer, error) {
	var path string
	if role == "" {
		path = ks.rootKeyPath(identifier)
	} else {
		path = ks.roleKeyPath(identifier, role)
	}
	seed, err := ks.loadSeed(path)
	if err != nil {
		return nil, err
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

// DID returns the did:key identifier for identifier's root or role key.
func (ks *KeyStore) DID(identifier, role string) (string, error) {
	var path string
	if role == "" {
		path = ks.rootKeyPath(identifier)
	} else {
		path = ks.roleKeyPath(identifier, role)
	}
	seed, err := ks.loadSeed(path)
	if err != nil {
		return "", err
	}
	return didForSeed(seed)
}

type KeyEntry struct {
	Identifier string
	Roles      []string
}

func (ks *KeyStore) List() ([]KeyEntry, error) {
	entries, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var identifiers []string
	for _, e := range entries {
		if e.IsDir() {
			identifiers = append(identifiers, e.Name())
		}
	}
	sort.Strings(identifiers)

	var out []KeyEntry
	for _, id := range identifiers {
		roleEntries, _ := os.ReadDir(filepath.Join(ks.Directory, id, "roles"))
		var roles []string
		for _, re := range roleEntries {
			if !re.IsDir() && strings.HasSuffix(re.Name(), ".key") {
				roles = append(roles, strings.TrimSuffix(re.Name(), ".key"))
			}
		}
		sort.Strings(roles)
		out = append(out, KeyEntry{Identifier: id, Roles: roles})
	}
	return out, nil
}

func didForSeed(seed []byte) (string, error) {
	priv := ed25519.NewKeyFromSeed(seed)
	return did.NewKeyDID(priv.Public().(ed25519.PublicKey))
}
