package wire_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PanGan21/verifiable-storage/internal/wire"
)

func TestValidateFilenameRules(t *testing.T) {
	cases := []struct {
		name    string
		wantErr error
	}{
		{"a.txt", nil},
		{"", wire.ErrFilenameEmpty},
		{"a/b.txt", wire.ErrFilenameSeparator},
		{`a\b.txt`, wire.ErrFilenameSeparator},
		{".", wire.ErrFilenameDotOrDotDot},
		{"..", wire.ErrFilenameDotOrDotDot},
		{"a\x00b", wire.ErrFilenameNullByte},
	}

	for _, tc := range cases {
		err := wire.ValidateFilename(tc.name)
		if tc.wantErr == nil {
			require.NoError(t, err, "filename %q", tc.name)
		} else {
			require.ErrorIs(t, err, tc.wantErr, "filename %q", tc.name)
		}
	}
}

func TestValidateFilenameRejectsTooLong(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	err := wire.ValidateFilename(string(long))
	require.ErrorIs(t, err, wire.ErrFilenameTooLong)
}

func TestReplayWindow(t *testing.T) {
	// now-400s rejected; now-60s accepted; now+120s rejected; now+30s accepted.
	now := wire.NowMillis()

	require.False(t, wire.WithinReplayWindow(now-400_000, now))
	require.True(t, wire.WithinReplayWindow(now-60_000, now))
	require.False(t, wire.WithinReplayWindow(now+120_000, now))
	require.True(t, wire.WithinReplayWindow(now+30_000, now))
}

func TestReplayWindowSaturatesInsteadOfUnderflowing(t *testing.T) {
	// A timestamp at the epoch, far older than now, must be rejected without
	// underflowing into acceptance.
	require.False(t, wire.WithinReplayWindow(0, 10_000_000_000))
}

func TestValidateFileHashRejectsWrongLength(t *testing.T) {
	valid := make([]byte, 32)
	hashHex := fmt.Sprintf("%x", valid)
	require.NoError(t, wire.ValidateFileHash(hashHex))

	require.ErrorIs(t, wire.ValidateFileHash("deadbeef"), wire.ErrFileHashLength)
	require.ErrorIs(t, wire.ValidateFileHash(""), wire.ErrFileHashLength)
}

func TestValidateSignatureHexRejectsWrongLength(t *testing.T) {
	valid := make([]byte, 64)
	sigHex := fmt.Sprintf("%x", valid)

	decoded, err := wire.ValidateSignatureHex(sigHex)
	require.NoError(t, err)
	require.Len(t, decoded, 64)

	_, err = wire.ValidateSignatureHex("deadbeef")
	require.ErrorIs(t, err, wire.ErrSignatureLength)
}

func TestValidatePublicKeyHexRejectsWrongLength(t *testing.T) {
	valid := make([]byte, 32)
	pubHex := fmt.Sprintf("%x", valid)

	decoded, err := wire.ValidatePublicKeyHex(pubHex)
	require.NoError(t, err)
	require.Len(t, decoded, 32)

	_, err = wire.ValidatePublicKeyHex("deadbeef")
	require.ErrorIs(t, err, wire.ErrPublicKeyLength)
}
