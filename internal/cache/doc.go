// Package cache defines the disk-backed store that holds the named cache
// partitions (temporary staging, long-lived content, manifest record). Each
// partition maps a logical resource key to a stored response: the body file
// plus a small metadata record with status and headers. Writes go through a
// temp file + rename so readers never observe a half-written body, and whole
// partitions can be dropped in one call. Worker lifecycle code works through
// Partition handles rather than touching the filesystem layout directly.
package cache
