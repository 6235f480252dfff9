package util

const (
	// RawPayload indicates that a row payload is transferred uncompressed
	RawPayload = 1 << iota
	// LZ4Payload indicates that a row payload is lz4-compressed
	LZ4Payload
	// ZstdPayload indicates that a row payload is zstd-compressed
	ZstdPayload
)
