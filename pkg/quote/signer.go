// Package quote authenticates price quotes with secp256k1 signatures.
//
// A quote is signed over the keccak256 digest of the canonical CBOR encoding of its price
// descriptions. The issuer is the hex address of the signing key, so anyone can verify a
// quote by recovering the public key from the signature.
package quote

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/StrathCole/flux-aggregator/pkg/cbor"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
)

var (
	// ErrInvalidSignature indicates a signature of the wrong shape.
	ErrInvalidSignature = errors.New("invalid quote signature")
	// ErrIssuerMismatch indicates a signature by a key other than the issuer's.
	ErrIssuerMismatch = errors.New("quote not signed by issuer")
	// ErrEmptyQuote indicates a quote without descriptions.
	ErrEmptyQuote = errors.New("quote has no descriptions")
)

// Signer authenticates quotes with a private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner returns a signer for key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the issuer address of quotes signed by s.
func (s *Signer) Address() common.Address {
	return s.address
}

// AuthenticateQuote implements flux.QuoteAuthenticator.
func (s *Signer) AuthenticateQuote(_ context.Context, descriptions []flux.PriceDescription) (*flux.PriceQuote, error) {
	if len(descriptions) == 0 {
		return nil, ErrEmptyQuote
	}
	sig, err := crypto.Sign(Digest(descriptions), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign quote: %w", err)
	}
	return &flux.PriceQuote{
		Descriptions: descriptions,
		Issuer:       s.address.Hex(),
		Signature:    sig,
	}, nil
}

// Verify checks that q was signed by its issuer.
func Verify(q *flux.PriceQuote) error {
	if len(q.Descriptions) == 0 {
		return ErrEmptyQuote
	}
	if len(q.Signature) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	sig := make([]byte, len(q.Signature))
	copy(sig, q.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return ErrInvalidSignature
	}

	pub, err := crypto.SigToPub(Digest(q.Descriptions), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(*pub).Hex(), q.Issuer) {
		return ErrIssuerMismatch
	}
	return nil
}

type amountRecord struct {
	Brand string `cbor:"brand"`
	Value []byte `cbor:"value"`
}

type descriptionRecord struct {
	AmountIn  amountRecord `cbor:"amount_in"`
	AmountOut amountRecord `cbor:"amount_out"`
	Timer     string       `cbor:"timer"`
	Timestamp uint64       `cbor:"timestamp"`
}

// Digest returns the signed digest of the descriptions.
func Digest(descriptions []flux.PriceDescription) []byte {
	records := make([]descriptionRecord, len(descriptions))
	for i := range descriptions {
		d := &descriptions[i]
		records[i] = descriptionRecord{
			AmountIn:  amountRecord{Brand: d.AmountIn.Brand, Value: d.AmountIn.Value.Bytes()},
			AmountOut: amountRecord{Brand: d.AmountOut.Brand, Value: d.AmountOut.Value.Bytes()},
			Timer:     d.Timer,
			Timestamp: uint64(d.Timestamp),
		}
	}
	return crypto.Keccak256(cbor.Marshal(records))
}
