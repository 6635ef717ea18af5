package export

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSafeEncodeRoundTrip(t *testing.T) {
	names := []string{
		"a.xml",
		"my coll/a",
		"with spaces and/slash",
		"unicode-éè",
		"percent%sign",
		"",
		"__contents__.xml",
	}
	for _, name := range names {
		encoded := safeEncode(name)
		decoded, err := safeDecode(encoded)
		require.NoError(t, err)
		require.Equal(t, name, decoded)
	}
}

func TestSafeEncodeOnlyUsesSafeBytes(t *testing.T) {
	encoded := safeEncode("my coll/a b%c")
	for i := 0; i < len(encoded); i++ {
		c := encoded[i]
		if c == '%' {
			continue
		}
		require.True(t, isSafeEncodeByte(c), "unexpected raw byte %q in %q", c, encoded)
	}
}

func TestSafeDecodeRejectsMalformedEscape(t *testing.T) {
	_, err := safeDecode("abc%")
	require.ErrorIs(t, err, ErrInvalidSafeEncoding)

	_, err = safeDecode("abc%ZZ")
	require.ErrorIs(t, err, ErrInvalidSafeEncoding)
}
