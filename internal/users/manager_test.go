package users

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadResolvesHeaderSynonyms(t *testing.T) {
	csv := "USER_ID,Level,firstName,lastName,Plate,limit_liters,RFID\n" +
		"7,2,Jane,Doe,34 ABC 1,50.5,32:A0:AB:04\n"
	path := writeCSV(t, csv)

	m := New()
	require.NoError(t, m.Load(path))
	require.Len(t, m.All(), 1)

	rec, ok := m.Lookup("32a0ab04")
	require.True(t, ok)
	require.Equal(t, 7, rec.UserID)
	require.Equal(t, "Jane", rec.FirstName)
	require.InDelta(t, 50.5, rec.LimitLiters, 0.001)
}

func TestFindByRfidNormalizesSeparators(t *testing.T) {
	path := writeCSV(t, "userId,rfid\n1,32-A0-AB-04\n")
	m := New()
	require.NoError(t, m.Load(path))

	for _, uid := range []string{"32A0AB04", "32 a0 ab 04", "32:a0:ab:04"} {
		userID, _, _, ok := m.FindByRfid(uid)
		require.True(t, ok, "uid variant %q should match", uid)
		require.Equal(t, "1", userID)
	}
}

func TestInvalidUserIdRowSkipped(t *testing.T) {
	path := writeCSV(t, "userId,rfid\nNaN,AABBCC\n0,DDEEFF\n2,112233\n")
	m := New()
	require.NoError(t, m.Load(path))
	require.Len(t, m.All(), 1)
	require.Equal(t, 2, m.All()[0].UserID)
}

func TestMissingRequiredColumnsFailsLoad(t *testing.T) {
	path := writeCSV(t, "firstName,lastName\nJane,Doe\n")
	m := New()
	require.Error(t, m.Load(path))
}

func TestUnknownUidNotFound(t *testing.T) {
	path := writeCSV(t, "userId,rfid\n1,AABBCC\n")
	m := New()
	require.NoError(t, m.Load(path))

	_, _, _, ok := m.FindByRfid("112233")
	require.False(t, ok)
}
