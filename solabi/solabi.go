// Package solabi provides minimal helpers for reading and writing the
// solidity ABI encoding of method calls whose layout is fixed and known
// ahead of time. Values are encoded as 32-byte big-endian words, with
// `bytes` arguments length-prefixed and right-padded to a word boundary.
package solabi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidSelector = errors.New("invalid selector")
	ErrNonZeroPadding  = errors.New("non-zero padding")
)

func ReadSignature(r io.Reader) ([]byte, error) {
	sig := make([]byte, 4)
	_, err := io.ReadFull(r, sig)
	return sig, err
}

func ReadAndValidateSignature(r io.Reader, expectedSignature []byte) ([]byte, error) {
	sig := make([]byte, 4)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, expectedSignature) {
		return nil, ErrInvalidSelector
	}
	return sig, nil
}

func ReadUint64(r io.Reader) (uint64, error) {
	var readPadding [24]byte
	var n uint64
	if _, err := io.ReadFull(r, readPadding[:]); err != nil {
		return n, err
	} else if !bytes.Equal(readPadding[:], make([]byte, len(readPadding))) {
		return n, fmt.Errorf("%w: %x", ErrNonZeroPadding, readPadding)
	}
	var word [8]byte
	if _, err := io.ReadFull(r, word[:]); err != nil {
		return n, err
	}
	for _, b := range word {
		n = (n << 8) | uint64(b)
	}
	return n, nil
}

func ReadUint256(r io.Reader) (*big.Int, error) {
	var word [32]byte
	if _, err := io.ReadFull(r, word[:]); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(word[:]), nil
}

func ReadHash(r io.Reader) (common.Hash, error) {
	var h common.Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func ReadAddress(r io.Reader) (common.Address, error) {
	var readPadding [12]byte
	var a common.Address
	if _, err := io.ReadFull(r, readPadding[:]); err != nil {
		return a, err
	} else if !bytes.Equal(readPadding[:], make([]byte, len(readPadding))) {
		return a, fmt.Errorf("%w: %x", ErrNonZeroPadding, readPadding)
	}
	_, err := io.ReadFull(r, a[:])
	return a, err
}

// ReadBytes reads a `bytes` payload: a 32-byte length word followed by the
// data, right-padded with zeroes to a multiple of 32 bytes.
func ReadBytes(r io.Reader) ([]byte, error) {
	length, err := ReadUint64(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	padding := make([]byte, (32-length%32)%32)
	if _, err := io.ReadFull(r, padding); err != nil {
		return nil, err
	}
	if !bytes.Equal(padding, make([]byte, len(padding))) {
		return nil, fmt.Errorf("%w: %x", ErrNonZeroPadding, padding)
	}
	return data, nil
}

// EmptyReader returns true if the reader is fully exhausted.
func EmptyReader(r io.Reader) bool {
	var t [1]byte
	n, err := r.Read(t[:])
	return n == 0 && err == io.EOF
}

func WriteSignature(w io.Writer, sig []byte) error {
	_, err := w.Write(sig)
	return err
}

func WriteUint64(w io.Writer, n uint64) error {
	var word [32]byte
	for i := 0; i < 8; i++ {
		word[31-i] = byte(n >> (8 * i))
	}
	_, err := w.Write(word[:])
	return err
}

func WriteUint256(w io.Writer, n *big.Int) error {
	if n.BitLen() > 256 {
		return fmt.Errorf("big int exceeds 256 bits: %d", n)
	}
	var word [32]byte
	n.FillBytes(word[:])
	_, err := w.Write(word[:])
	return err
}

func WriteHash(w io.Writer, h common.Hash) error {
	_, err := w.Write(h[:])
	return err
}

func WriteAddress(w io.Writer, a common.Address) error {
	var padding [12]byte
	if _, err := w.Write(padding[:]); err != nil {
		return err
	}
	_, err := w.Write(a[:])
	return err
}

func WriteBytes(w io.Writer, data []byte) error {
	if err := WriteUint64(w, uint64(len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	padding := make([]byte, (32-len(data)%32)%32)
	_, err := w.Write(padding)
	return err
}
