// Package snapshot writes point-in-time copies of every persisted object
// record to standalone files and reads them back.
//
// File layout:
//
//	snapshot-<ulid>.snap
//	[magic:8 "DLTMSNAP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]
//	[checksum:32 SHA-256 of all bytes above]
//
// Data is a sequence of [RecordLen:4][Record] frames, each record in the
// storage codec encoding. When a key or passphrase is configured the
// whole data block is sealed with an adaptive.Sealer and the header
// bytes as associated data.
package snapshot
