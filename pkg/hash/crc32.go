package hash

// crc32Polynomial is the reflected form of the IEEE 802.3 CRC-32 polynomial.
const crc32Polynomial uint32 = 0xEDB88320

// crc32Table holds the per-byte remainders for crc32Polynomial.
// It is filled once at package initialization and only read afterwards.
var crc32Table = buildCRC32Table()

func buildCRC32Table() [256]uint32 {
	var table [256]uint32
	for i := range table {
		crc := uint32(i)
		for j := 0; j < 8; j++ {
			if crc&1 == 1 {
				crc = (crc >> 1) ^ crc32Polynomial
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Hashing maps raw key bytes to a 32-bit value.
// Implementations must be pure functions of the key bytes.
type Hashing interface {
	Hash(key []byte) uint32
}

// CRC32 is the Hashing used for shard placement.
// It produces the same value as the CRC-32 found in zlib, Python's
// binascii.crc32, Java's java.util.zip.CRC32 and Go's hash/crc32 (IEEE),
// so clients written in any of those languages pick the same shard.
type CRC32 struct{}

// Hash returns Sum32(key).
func (CRC32) Hash(key []byte) uint32 {
	return Sum32(key)
}

// Sum32 computes the CRC-32 (IEEE, reflected) of key.
//
// No normalization is applied: the caller decides how text becomes bytes.
// Sum32 of an empty key is 0 and Sum32 of "123456789" is 0xCBF43926.
//
// Example:
//
//	h := hash.Sum32([]byte("user:123"))
//	shard := h % 16
func Sum32(key []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range key {
		crc = crc32Table[byte(crc)^b] ^ (crc >> 8)
	}
	return ^crc
}

// SumString is Sum32 over the UTF-8 bytes of key.
func SumString(key string) uint32 {
	crc := ^uint32(0)
	for i := 0; i < len(key); i++ {
		crc = crc32Table[byte(crc)^key[i]] ^ (crc >> 8)
	}
	return ^crc
}

// Slot returns the shard index of key among shardCount shards:
// Sum32(key) mod shardCount, always within [0, shardCount).
//
// Slot panics if shardCount is not positive.
//
// Example:
//
//	nodes := []string{"cache1:8080", "cache2:8080", "cache3:8080"}
//	node := nodes[hash.Slot([]byte("session:abc"), len(nodes))]
func Slot(key []byte, shardCount int) int {
	if shardCount <= 0 {
		panic("hash: shard count must be positive")
	}
	return int(uint64(Sum32(key)) % uint64(shardCount))
}

// SlotString is Slot over the UTF-8 bytes of key.
func SlotString(key string, shardCount int) int {
	if shardCount <= 0 {
		panic("hash: shard count must be positive")
	}
	return int(uint64(SumString(key)) % uint64(shardCount))
}
