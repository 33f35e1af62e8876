package rivet

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// Ensure that the checksum covers the 56 bytes preceding the checksum field.
func TestMeta_layout(t *testing.T) {
	assert.Equal(t, uintptr(56), unsafe.Offsetof(meta{}.checksum))
}

// Ensure that validation reports the first inapplicable check:
// magic, then version, then checksum.
func TestMeta_validate(t *testing.T) {
	m := &meta{magic: 0, version: 0}
	assert.Equal(t, ErrInvalid, m.validate())

	m = &meta{magic: magic, version: 500}
	assert.Equal(t, ErrVersionMismatch, m.validate())

	m = &meta{magic: magic, version: version, checksum: 12345}
	assert.Equal(t, ErrChecksum, m.validate())

	m = &meta{magic: magic, version: version}
	m.checksum = m.sum64()
	assert.NoError(t, m.validate())
}

// Ensure that the checksum changes when any covered field changes.
func TestMeta_sum64(t *testing.T) {
	m := &meta{magic: magic, version: version, pageSize: 4096, txid: 5}
	sum := m.sum64()
	m.txid++
	assert.NotEqual(t, sum, m.sum64())

	// The checksum field itself is not covered.
	m.txid--
	m.checksum = 0xDEADBEEF
	assert.Equal(t, sum, m.sum64())
}

// Ensure the meta page alternates between pages 0 and 1 by transaction id.
func TestMeta_write(t *testing.T) {
	var buf [4096]byte
	p := (*page)(unsafe.Pointer(&buf[0]))

	m := &meta{magic: magic, version: version, pageSize: 4096, txid: 5, pgid: 10, freelist: 2}
	m.root = bucket{root: 3}
	m.write(p)
	assert.Equal(t, pgid(1), p.id)
	assert.True(t, (p.flags&metaPageFlag) != 0)
	assert.Equal(t, m.checksum, p.meta().checksum)
	assert.NoError(t, p.meta().validate())

	var buf2 [4096]byte
	p2 := (*page)(unsafe.Pointer(&buf2[0]))
	m.txid = 6
	m.write(p2)
	assert.Equal(t, pgid(0), p2.id)
}
