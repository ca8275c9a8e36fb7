package btree

import (
	"encoding/binary"

	"coredb/internal/common"
)

// readRootPageID decodes the root page id from a header page's bytes.
func readRootPageID(buf []byte) common.PageID {
	return common.PageID(binary.LittleEndian.Uint64(buf))
}

// writeRootPageID encodes root into a header page's bytes.
func writeRootPageID(buf []byte, root common.PageID) {
	binary.LittleEndian.PutUint64(buf, uint64(root))
}
