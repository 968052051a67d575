package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16Xmodem(t *testing.T) {
	assert.Equal(t, uint16(0x31c3), CRC16([]byte("123456789")))
}

func TestRawAndFriendlyRoundTrip(t *testing.T) {
	raw := "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
	a, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, int32(0), a.Workchain)
	require.Equal(t, raw, a.Raw())

	friendly := a.String()
	require.Len(t, friendly, 48)
	b, err := Parse(friendly)
	require.NoError(t, err)
	require.Equal(t, a, b)

	m, err := Parse("-1:3333333333333333333333333333333333333333333333333333333333333333")
	require.NoError(t, err)
	require.Equal(t, int32(-1), m.Workchain)
	back, err := Parse(m.String())
	require.NoError(t, err)
	require.Equal(t, int32(-1), back.Workchain)
}

func TestParseKnownFriendly(t *testing.T) {
	a, err := Parse("EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N")
	require.NoError(t, err)
	require.True(t, a.Bounceable)
	require.Equal(t, "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8", a.Raw())
	require.Equal(t, "EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2N", a.String())
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{
		"",
		"0:zz",
		"x:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8",
		"EQCD39VS5jcptHL8vMjEXrzGaRcCVYto7HUn4bpAOg8xqB2M",
	} {
		_, err := Parse(s)
		require.ErrorIs(t, err, ErrBadAddress, s)
	}
}
