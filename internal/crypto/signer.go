package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes for Hyperliquid L1 actions. Actions are not signed
// directly: their msgpack hash becomes the connectionId of a "phantom agent"
// struct which is then signed under the fixed Exchange domain.
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

const (
	l1DomainName    = "Exchange"
	l1DomainVersion = "1"
	l1ChainID       = 1337
)

// Signature is the r/s/v triple Hyperliquid expects in the exchange payload.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// Signer signs Hyperliquid L1 actions with a secp256k1 wallet key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	mainnet    bool
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded private key. mainnet selects
// the phantom-agent source ("a" for mainnet, "b" for testnet).
func NewSigner(privateKeyHex string, mainnet bool) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		mainnet:    mainnet,
		domainSep:  buildDomainSeparator(l1DomainName, l1DomainVersion, l1ChainID, common.Address{}),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignL1Action signs action for the /exchange endpoint. vault is the optional
// vault or subaccount address trading on behalf of the signer.
func (s *Signer) SignL1Action(action any, nonce int64, vault string) (Signature, error) {
	connectionID, err := ActionHash(action, nonce, vault)
	if err != nil {
		return Signature{}, err
	}

	source := "b"
	if s.mainnet {
		source = "a"
	}
	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(source)),
			connectionID,
		),
	)

	return s.signDigest(eip712Hash(s.domainSep, structHash))
}

// ActionHash returns keccak256(msgpack(action) || nonce || vaultFlag [|| vault]).
// Field order of action is significant; callers pass structs whose field
// order matches the wire format.
func ActionHash(action any, nonce int64, vault string) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, fmt.Errorf("crypto/signer: msgpack action: %w", err)
	}

	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], uint64(nonce))
	buf.Write(nonceBytes[:])

	if vault == "" {
		buf.WriteByte(0x00)
	} else {
		buf.WriteByte(0x01)
		buf.Write(common.HexToAddress(vault).Bytes())
	}

	return ethcrypto.Keccak256(buf.Bytes()), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func buildDomainSeparator(name, version string, chainID int64, contract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(contract.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// signDigest signs a 32-byte digest and splits it into r, s and v (27/28).
func (s *Signer) signDigest(digest []byte) (Signature, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	return Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
