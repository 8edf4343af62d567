package options

import (
	"errors"
	"hash/crc32"
)

const (
	defaultDirectThreshold = 4 * 1024 // 4KB
)

var ErrInvalidChecksumAlgorithm = errors.New("checksum algorithm must be crc32 IEEE, Castagnoli or Koopman")

// ChecksumConfig selects the CRC32 polynomial used over stream content.
type ChecksumConfig struct {
	Algorithm uint32 // crc32.IEEE, crc32.Castagnoli or crc32.Koopman

	// Chunks up to this size are summed with a one-shot call instead of a
	// pooled hash.
	DirectThreshold int
}

func DefaultChecksumConfig() ChecksumConfig {
	return ChecksumConfig{
		Algorithm:       crc32.Castagnoli,
		DirectThreshold: defaultDirectThreshold,
	}
}

func (c *ChecksumConfig) Validate() error {
	switch c.Algorithm {
	case crc32.IEEE, crc32.Castagnoli, crc32.Koopman:
		return nil
	default:
		return ErrInvalidChecksumAlgorithm
	}
}
