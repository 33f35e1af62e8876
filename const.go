package rivet

// maxMapSize represents the largest mmap size supported by rivet.
const maxMapSize = 0xFFFFFFFFFFFF // 256TB

// maxAllocSize is the size used when creating array pointers.
const maxAllocSize = 0x7FFFFFFF

// maxMmapStep is the largest step that can be taken when remapping the mmap.
const maxMmapStep = 1 << 30 // 1GB

// magic is the marker value that identifies a data file.
const magic uint32 = 0xED0CDAED

// version is the data file format version.
const version = 2

const (
	// MaxKeySize is the maximum length of a key, in bytes.
	MaxKeySize = 32768

	// MaxValueSize is the maximum length of a value, in bytes.
	MaxValueSize = (1 << 31) - 2
)
