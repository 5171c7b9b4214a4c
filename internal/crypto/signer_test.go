package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func generateSigner(t *testing.T) *Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)), 137)
	require.NoError(t, err)
	require.Equal(t, ethcrypto.PubkeyToAddress(pk.PublicKey), s.Address())
	return s
}

func validOrder() OrderPayload {
	return OrderPayload{
		Salt:          "12345",
		Maker:         "0x0000000000000000000000000000000000000001",
		Signer:        "0x0000000000000000000000000000000000000001",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "777",
		MakerAmount:   "5700000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func TestNewSignerAcceptsPrefixedKey(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(pk))

	bare, err := NewSigner(keyHex, 137)
	require.NoError(t, err)
	prefixed, err := NewSigner("0x"+keyHex, 137)
	require.NoError(t, err)
	require.Equal(t, bare.Address(), prefixed.Address())
}

func TestNewSignerRejectsGarbage(t *testing.T) {
	_, err := NewSigner("not-a-key", 137)
	require.Error(t, err)
}

func requireSignature(t *testing.T, sig string) []byte {
	t.Helper()
	require.True(t, strings.HasPrefix(sig, "0x"))
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	require.Len(t, raw, 65)
	require.Contains(t, []byte{27, 28}, raw[64], "recovery byte must be 27 or 28")
	return raw
}

func TestSignAuthMessage(t *testing.T) {
	s := generateSigner(t)

	sig, err := s.SignAuthMessage(s.Address().Hex(), 1_700_000_000, 0)
	require.NoError(t, err)
	requireSignature(t, sig)

	// ECDSA signing in go-ethereum is deterministic, and the digest covers
	// the timestamp.
	again, err := s.SignAuthMessage(s.Address().Hex(), 1_700_000_000, 0)
	require.NoError(t, err)
	require.Equal(t, sig, again)

	later, err := s.SignAuthMessage(s.Address().Hex(), 1_700_000_001, 0)
	require.NoError(t, err)
	require.NotEqual(t, sig, later)
}

func TestSignOrder(t *testing.T) {
	s := generateSigner(t)

	sig, err := s.SignOrder(validOrder())
	require.NoError(t, err)
	raw := requireSignature(t, sig)

	// The signature must recover to the signer over the same digest.
	structHash, err := orderStructHash(validOrder())
	require.NoError(t, err)
	digest := eip712Hash(s.orderDomain, structHash)

	recovery := make([]byte, 65)
	copy(recovery, raw)
	recovery[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, recovery)
	require.NoError(t, err)
	require.Equal(t, s.Address(), ethcrypto.PubkeyToAddress(*pub))
}

func TestSignOrderCoversEveryField(t *testing.T) {
	s := generateSigner(t)

	base, err := s.SignOrder(validOrder())
	require.NoError(t, err)

	mutations := []func(*OrderPayload){
		func(o *OrderPayload) { o.Salt = "12346" },
		func(o *OrderPayload) { o.TokenID = "778" },
		func(o *OrderPayload) { o.MakerAmount = "5700001" },
		func(o *OrderPayload) { o.TakerAmount = "10000001" },
		func(o *OrderPayload) { o.Side = 1 },
		func(o *OrderPayload) { o.SignatureType = 1 },
	}
	for i, mutate := range mutations {
		order := validOrder()
		mutate(&order)
		sig, err := s.SignOrder(order)
		require.NoError(t, err)
		require.NotEqual(t, base, sig, "mutation %d must change the signature", i)
	}
}

func TestSignOrderRejectsNonNumericFields(t *testing.T) {
	s := generateSigner(t)

	bad := validOrder()
	bad.TokenID = "0xhex-not-decimal"
	_, err := s.SignOrder(bad)
	require.Error(t, err)

	bad = validOrder()
	bad.MakerAmount = ""
	_, err = s.SignOrder(bad)
	require.Error(t, err)
}

func TestOrderSignaturesDifferAcrossChains(t *testing.T) {
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(pk))

	mainnet, err := NewSigner(keyHex, 137)
	require.NoError(t, err)
	amoy, err := NewSigner(keyHex, 80002)
	require.NoError(t, err)

	a, err := mainnet.SignOrder(validOrder())
	require.NoError(t, err)
	b, err := amoy.SignOrder(validOrder())
	require.NoError(t, err)
	require.NotEqual(t, a, b, "the chain ID is part of the signing domain")
}
