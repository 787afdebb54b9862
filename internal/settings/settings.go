// Package settings persists small device-local settings in a bbolt
// database: the stable device identity and the API credential, sealed
// at rest so the raw key never sits in plaintext on disk.
package settings

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

const (
	// settingsDirPerm is the permission mode for the data directory.
	settingsDirPerm = fs.FileMode(0o700)

	// settingsFilePerm is the permission mode for the settings database.
	settingsFilePerm = fs.FileMode(0o600)

	// settingsOpenTimeout is the maximum time to wait for the bolt
	// database lock, so a second instance fails fast instead of hanging.
	settingsOpenTimeout = 5 * time.Second
)

var (
	appBucket         = []byte("app")
	deviceIDKey       = []byte("device_id")
	sealedKeyKey      = []byte("sealed_api_key")
	sealSaltKey       = []byte("seal_salt")
	lastCleanupKey    = []byte("last_cleanup")
	credentialsBucket = []byte("credentials")
)

// Settings wraps a bbolt database holding device-local state that does
// not belong in the relational store.
type Settings struct {
	db *bolt.DB
}

// Open opens (or creates) the settings database under dataDir.
func Open(dataDir string) (*Settings, error) {
	return OpenAt(filepath.Join(dataDir, "settings.db"))
}

// OpenAt opens a settings database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*Settings, error) {
	if err := os.MkdirAll(filepath.Dir(path), settingsDirPerm); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	db, err := bolt.Open(path, settingsFilePerm, &bolt.Options{Timeout: settingsOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening settings db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(appBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(credentialsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing settings db: %w", err)
	}

	return &Settings{db: db}, nil
}

// Close closes the database.
func (s *Settings) Close() error {
	return s.db.Close()
}

// DeviceID returns the stable device identifier, minting and persisting
// a new one on first call.
func (s *Settings) DeviceID() (string, error) {
	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(appBucket)

		if v := b.Get(deviceIDKey); v != nil {
			id = string(v)
			return nil
		}

		id = uuid.NewString()

		return b.Put(deviceIDKey, []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("resolving device id: %w", err)
	}

	return id, nil
}

// StoreAPIKey seals the API key with a key derived from the device id
// and a per-database random salt, then persists the ciphertext.
func (s *Settings) StoreAPIKey(apiKey string) error {
	deviceID, err := s.DeviceID()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)

		salt, err := ensureSalt(b)
		if err != nil {
			return err
		}

		sealed, err := seal([]byte(apiKey), deviceID, salt)
		if err != nil {
			return fmt.Errorf("sealing api key: %w", err)
		}

		return b.Put(sealedKeyKey, sealed)
	})
}

// APIKey returns the stored API key, or empty string when none has been
// persisted yet.
func (s *Settings) APIKey() (string, error) {
	deviceID, err := s.DeviceID()
	if err != nil {
		return "", err
	}

	var apiKey string

	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)

		sealed := b.Get(sealedKeyKey)
		if sealed == nil {
			return nil
		}

		salt := b.Get(sealSaltKey)
		if salt == nil {
			return fmt.Errorf("sealed api key present without salt")
		}

		plain, err := open(sealed, deviceID, salt)
		if err != nil {
			return fmt.Errorf("unsealing api key: %w", err)
		}

		apiKey = string(plain)

		return nil
	})
	if err != nil {
		return "", err
	}

	return apiKey, nil
}

// LastCleanup returns the timestamp of the last ledger cleanup run, or
// the zero time when none has been recorded.
func (s *Settings) LastCleanup() (time.Time, error) {
	var t time.Time

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastCleanupKey)
		if v == nil {
			return nil
		}

		parsed, err := time.Parse(time.RFC3339, string(v))
		if err != nil {
			return fmt.Errorf("parsing last cleanup time: %w", err)
		}

		t = parsed

		return nil
	})

	return t, err
}

// SetLastCleanup records when ledger cleanup last ran.
func (s *Settings) SetLastCleanup(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastCleanupKey, []byte(t.UTC().Format(time.RFC3339)))
	})
}

func ensureSalt(b *bolt.Bucket) ([]byte, error) {
	if salt := b.Get(sealSaltKey); salt != nil {
		return salt, nil
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}

	if err := b.Put(sealSaltKey, salt); err != nil {
		return nil, err
	}

	return salt, nil
}
