package badger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/corpus/core"
)

// Key prefixes for different data types
const (
	chunkRecordPrefix   = "chkrec"
	chunkDocumentPrefix = "chkdoc"
	taskRecordPrefix    = "tskrec"
	taskDuePrefix       = "tskdue"
)

// keySep separates variable-length key components. Filenames and set names
// never contain NUL, so the split is unambiguous.
const keySep = 0x00

// makeChunkKey generates a key for a chunk record by ID.
func makeChunkKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", chunkRecordPrefix, id))
}

// makeChunkDocKey generates a composite key for the document index.
// Format: prefix:set NUL filename NUL id
func makeChunkDocKey(documentSet, filename string, id core.ID) []byte {
	buf := makePartialChunkDocKey(documentSet, filename)
	idBytes := make([]byte, 8)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(idBytes, uint64(id))
	return append(buf, idBytes...)
}

// makePartialChunkDocKey generates a partial key covering every chunk of one
// document, for per-document scans and deletes.
func makePartialChunkDocKey(documentSet, filename string) []byte {
	prefix := chunkDocumentPrefix + ":"
	buf := make([]byte, 0, len(prefix)+len(documentSet)+len(filename)+2)
	buf = append(buf, prefix...)
	buf = append(buf, documentSet...)
	buf = append(buf, keySep)
	buf = append(buf, filename...)
	buf = append(buf, keySep)
	return buf
}

// parseChunkDocKey extracts the document set and filename from an index key.
func parseChunkDocKey(key []byte) (documentSet, filename string, err error) {
	prefix := []byte(chunkDocumentPrefix + ":")
	if !bytes.HasPrefix(key, prefix) {
		return "", "", errors.New("not a document index key")
	}
	rest := key[len(prefix):]
	parts := bytes.SplitN(rest, []byte{keySep}, 3)
	if len(parts) != 3 {
		return "", "", errors.New("malformed document index key")
	}
	return string(parts[0]), string(parts[1]), nil
}

// makeTaskKey generates a key for a task record by ID.
func makeTaskKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", taskRecordPrefix, id))
}

// makeTaskDueKey generates a composite key for the due index.
// Format: prefix:due:id
func makeTaskDueKey(due time.Time, id string) []byte {
	prefix := taskDuePrefix + ":"
	buf := make([]byte, 0, len(prefix)+8+len(id))
	buf = append(buf, prefix...)
	dueBytes := make([]byte, 8)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(dueBytes, uint64(due.UnixMicro()))
	buf = append(buf, dueBytes...)
	return append(buf, id...)
}

// parseTaskDueKey extracts the due timestamp and task ID from an index key.
func parseTaskDueKey(key []byte) (due time.Time, id string, err error) {
	prefix := []byte(taskDuePrefix + ":")
	if !bytes.HasPrefix(key, prefix) {
		return time.Time{}, "", errors.New("not a due index key")
	}
	rest := key[len(prefix):]
	if len(rest) < 8 {
		return time.Time{}, "", errors.New("malformed due index key")
	}
	micros := int64(binary.BigEndian.Uint64(rest[:8]))
	return time.UnixMicro(micros).UTC(), string(rest[8:]), nil
}
