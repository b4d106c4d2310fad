package faodel

import (
	"github.com/cespare/xxhash/v2"
)

// Bucket is a 32-bit tenant tag scoping a key namespace. The zero value,
// BucketUnspecified, means "use the process default bucket".
type Bucket uint32

// BucketUnspecified means "use the process default."
const BucketUnspecified Bucket = 0

// BucketFromString derives a Bucket tag from a human-readable name by
// hashing it, so operators can name buckets ("tenant-acme") without the
// core needing a name registry.
func BucketFromString(name string) Bucket {
	if name == "" {
		return BucketUnspecified
	}
	return Bucket(uint32(xxhash.Sum64String(name)))
}
