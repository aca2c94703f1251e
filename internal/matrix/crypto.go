// ABOUTME: End-to-end encryption for the bot's Matrix session
// ABOUTME: Keeps the mautrix crypto store in SQLite and optionally cross-signs with a recovery key

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// Crypto owns the encryption state of a logged-in client.
type Crypto struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// EnableCrypto turns on E2EE for client, which must already be logged in.
// The crypto store lives in dataDir, one database per user. A store left over
// from a different device is discarded. With a recovery key the device is
// also cross-signed; failing that is logged but not fatal.
func EnableCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*Crypto, error) {
	logger = logger.With("component", "crypto")
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := cryptoDBPath(dataDir, userID)
	logger.Info("setting up encryption", "db", dbPath)

	if err := resetStaleStore(dbPath, client.DeviceID.String(), logger); err != nil {
		return nil, err
	}

	helper, err := cryptohelper.NewCryptoHelper(client, pickleKey(userID), dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	client.Crypto = helper

	c := &Crypto{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption enabled without cross-signing")
		return c, nil
	}
	if err := c.verify(ctx, recoveryKey); err != nil {
		logger.Warn("cross-signing failed, continuing unverified", "error", err)
	}
	return c, nil
}

func (c *Crypto) verify(ctx context.Context, recoveryKey string) error {
	machine := c.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}
	c.logger.Info("device cross-signed with recovery key")
	return nil
}

// Close releases the crypto store.
func (c *Crypto) Close() error {
	if c == nil || c.helper == nil {
		return nil
	}
	return c.helper.Close()
}

// resetStaleStore deletes the crypto database when it belongs to a device
// other than deviceID. A fresh login gets a new device and the old keys are
// useless to it.
func resetStaleStore(dbPath, deviceID string, logger *slog.Logger) error {
	stored, err := storedDeviceID(dbPath)
	if err != nil {
		logger.Debug("could not read stored device id", "error", err)
		return nil
	}
	if stored == "" || stored == deviceID {
		return nil
	}

	logger.Warn("crypto store belongs to another device, resetting", "stored", stored, "current", deviceID)
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// storedDeviceID returns the device the crypto database was created for, or
// "" when there is no database or no account in it yet.
func storedDeviceID(dbPath string) (string, error) {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var deviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return deviceID, err
}

// cryptoDBPath places each account's store in its own file.
func cryptoDBPath(dataDir, userID string) string {
	return filepath.Join(dataDir, "crypto-"+fileSafe(userID)+".db")
}

// fileSafe maps a user id like @ciri:matrix.org to ciri_matrix.org.
func fileSafe(userID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == ':':
			return '_'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, strings.TrimPrefix(userID, "@"))
}

// pickleKey derives the per-user key that encrypts secrets in the store.
func pickleKey(userID string) []byte {
	sum := sha256.Sum256([]byte("ciri-crypto:" + userID))
	return sum[:]
}
