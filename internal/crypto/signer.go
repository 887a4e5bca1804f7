package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// Typed-data hashes, keccak256 of the canonical type strings.
var (
	domainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Voucher(string kind,string marketId,string participant,uint256 amount,uint256 seq)
	voucherTypeHash = ethcrypto.Keccak256(
		[]byte("Voucher(string kind,string marketId,string participant,uint256 amount,uint256 seq)"),
	)
)

const signingDomain = "Parimutuel"

// Signer signs payout vouchers and withdrawal receipts with a secp256k1 key
// so an external wallet layer can verify them against Address().
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key. The
// chain ID is folded into the domain separator.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(signingDomain, "1", chainID),
	}, nil
}

// Address returns the address vouchers are signed by.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns v with Signer and Signature filled in.
func (s *Signer) Sign(v domain.Voucher) (domain.Voucher, error) {
	digest, err := s.Digest(v)
	if err != nil {
		return domain.Voucher{}, err
	}
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("crypto: sign voucher %s/%s: %w", v.MarketID, v.Participant, err)
	}
	// go-ethereum returns v in {0,1}; wallets expect {27,28}.
	sig[64] += 27

	v.Signer = s.address.Hex()
	v.Signature = "0x" + hex.EncodeToString(sig)
	return v, nil
}

// Verify reports whether v carries a valid signature by v.Signer over its
// current fields.
func (s *Signer) Verify(v domain.Voucher) (bool, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(v.Signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("crypto: signature length %d, want 65", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := s.Digest(v)
	if err != nil {
		return false, err
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false, nil
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	return bytes.Equal(recovered.Bytes(), common.HexToAddress(v.Signer).Bytes()), nil
}

// Digest is keccak256("\x19\x01" || domainSeparator || structHash).
func (s *Signer) Digest(v domain.Voucher) ([]byte, error) {
	if v.Amount < 0 || v.Seq < 0 {
		return nil, fmt.Errorf("crypto: voucher with negative amount or seq: %w", domain.ErrInvalidAmount)
	}
	structHash := ethcrypto.Keccak256(
		voucherTypeHash,
		ethcrypto.Keccak256([]byte(v.Kind)),
		ethcrypto.Keccak256([]byte(v.MarketID)),
		ethcrypto.Keccak256([]byte(v.Participant)),
		common.LeftPadBytes(big.NewInt(v.Amount).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(v.Seq).Bytes(), 32),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, s.domainSep, structHash), nil
}

func domainSeparator(name, version string, chainID int64) []byte {
	return ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(name)),
		ethcrypto.Keccak256([]byte(version)),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
	)
}

// Compile-time interface check.
var _ domain.VoucherSigner = (*Signer)(nil)
