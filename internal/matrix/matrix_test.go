// ABOUTME: Tests for the Matrix helpers that do not need a homeserver
// ABOUTME: Covers message rendering, room filtering, mentions and the crypto store reset

package matrix

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func TestRender_PlainText(t *testing.T) {
	content, err := render("Searching for kadse...")
	require.NoError(t, err)

	assert.Equal(t, event.MsgText, content.MsgType)
	assert.Equal(t, "Searching for kadse...", content.Body)
	assert.Empty(t, content.Format)
	assert.Empty(t, content.FormattedBody)
}

func TestRender_Markdown(t *testing.T) {
	content, err := render("**Commands**\n\n- `.ping`: measure reply latency\n")
	require.NoError(t, err)

	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<strong>Commands</strong>")
	assert.Contains(t, content.FormattedBody, "<code>.ping</code>")
	assert.Contains(t, content.Body, "**Commands**")
}

func TestRender_Mention(t *testing.T) {
	content, err := render(mention("@alice:example.org") + ": https://img.example.org/a.jpg")
	require.NoError(t, err)

	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, ">alice</a>: https://img.example.org/a.jpg")
}

func TestMention(t *testing.T) {
	assert.Equal(t, "[alice](https://matrix.to/#/@alice:example.org)", mention(id.UserID("@alice:example.org")))
	assert.Equal(t, "[broken](https://matrix.to/#/broken)", mention(id.UserID("broken")))
}

func TestIsRoomAllowed(t *testing.T) {
	assert.True(t, isRoomAllowed(nil, "!any:example.org"))
	assert.True(t, isRoomAllowed([]string{"!a:x", "!b:x"}, "!b:x"))
	assert.False(t, isRoomAllowed([]string{"!a:x"}, "!b:x"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "süßv...", truncate("süßvieh", 4))
}

func TestFileSafe(t *testing.T) {
	assert.Equal(t, "ciri_matrix.org", fileSafe("@ciri:matrix.org"))
	assert.Equal(t, "weirdname_host", fileSafe("@we/ird name:host"))
	assert.Equal(t, filepath.Join("/data", "crypto-ciri_matrix.org.db"), cryptoDBPath("/data", "@ciri:matrix.org"))
}

func TestPickleKey(t *testing.T) {
	a := pickleKey("@a:x")
	assert.Len(t, a, 32)
	assert.Equal(t, a, pickleKey("@a:x"))
	assert.NotEqual(t, a, pickleKey("@b:x"))
}

func writeCryptoDB(t *testing.T, path, deviceID string) {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE crypto_account (account_id TEXT, device_id TEXT)")
	require.NoError(t, err)
	if deviceID != "" {
		_, err = db.Exec("INSERT INTO crypto_account VALUES (?, ?)", "ciri", deviceID)
		require.NoError(t, err)
	}
}

func TestStoredDeviceID(t *testing.T) {
	dir := t.TempDir()

	got, err := storedDeviceID(filepath.Join(dir, "missing.db"))
	require.NoError(t, err)
	assert.Empty(t, got)

	empty := filepath.Join(dir, "empty.db")
	writeCryptoDB(t, empty, "")
	got, err = storedDeviceID(empty)
	require.NoError(t, err)
	assert.Empty(t, got)

	full := filepath.Join(dir, "full.db")
	writeCryptoDB(t, full, "DEVICEA")
	got, err = storedDeviceID(full)
	require.NoError(t, err)
	assert.Equal(t, "DEVICEA", got)
}

func TestResetStaleStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crypto.db")
	writeCryptoDB(t, dbPath, "DEVICEA")

	require.NoError(t, resetStaleStore(dbPath, "DEVICEA", logger))
	assert.FileExists(t, dbPath, "store for the same device is kept")

	require.NoError(t, os.WriteFile(dbPath+"-wal", nil, 0600))
	require.NoError(t, resetStaleStore(dbPath, "DEVICEB", logger))
	assert.NoFileExists(t, dbPath)
	assert.NoFileExists(t, dbPath+"-wal")

	require.NoError(t, resetStaleStore(dbPath, "DEVICEB", logger), "missing store is fine")
}
