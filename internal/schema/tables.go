package schema

// Table ids are stable and part of the persisted on-disk format; never
// renumber an existing id.
type Table uint64

const (
	TableFiles          Table = iota + 1 // (file-id) -> File
	TableURIs                            // (uri-id) -> URI bytes
	TableURIsByValue                     // (uri bytes) -> uri-id
	TableFileURIs                        // (file-id, uri-id) -> {}
	TableURIFiles                        // (uri-id, file-id) -> {}
	TableUsers                           // (user-id) -> User
	TableUsersByName                     // (name) -> user-id
	TableSessions                        // (cookie-secret) -> Session
	TableTagsByTarget                    // (target-uri-id, field, value, source-meta-file-id) -> {}
	TableTagsByField                     // (field, value, target-uri-id, source-meta-file-id) -> {}
	TableSubmissionSeq                   // (sort-id) -> file-id
	TableSubmittedFiles                  // (session-id, uri-id) -> {}
	TableMetaMap                         // (target-uri-id, observed-uri-id) -> {}
	TableStrings                         // side table: (hashed-string-key) -> full bytes
	TableNextID                          // (table-id) -> next free id, per-table counters
)

// AppendTable appends the varint encoding of a table id to buf.
func AppendTable(buf []byte, t Table) []byte {
	return AppendUvarint(buf, uint64(t))
}
