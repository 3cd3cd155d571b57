// Package core infers a table schema from a delimited text file and
// bulk-loads the file into a new database table.
//
// The package has no transport dependencies. The CLI, the HTTP server and
// tests drive it through the same types.
//
// # Pipeline
//
// One import run moves strictly forward:
//
//  1. [ReadSample] reads a bounded prefix of the file.
//  2. A [Sniffer] infers delimiter, quote, newline, header and provisional
//     labels and types from the sample.
//  3. [ScanFile] reads the whole file once and builds the column-count
//     histogram, the per-column type lattice and an upper bound on rows.
//  4. [ReconcileLabels] fits the provisional labels to the column count.
//  5. A [Dialect] renders CREATE TABLE and the bulk-load statement.
//  6. The [Importer] creates the table, loads it, harvests rejects,
//     verifies the row count and drops the table on failure.
//
// # Type lattice
//
// Column types are ordered integer < float < string. A column starts
// unknown and only ever moves up; blank and null values leave it as is.
// See [AccumulateType].
//
// # Dialects
//
// MonetDB is the primary target and loads server-side with COPY INTO.
// PostgreSQL streams the file with COPY FROM STDIN and DuckDB reads it
// with read_csv. Dialects are looked up by name with [DialectFor].
//
// # Errors
//
// Every failed import returns an [*ImportError] whose Kind is one of the
// Err* sentinels, so errors.Is works on both the kind and the cause.
// [MapError] turns any error into a [UserMessage] with a support code:
//
//   - FILE001-FILE007: file errors (missing, binary, unreadable, empty)
//   - IMP001-IMP007: import errors (target exists, create, load, rejects)
//   - DB001-DB004: database transport errors
//   - REQ001-REQ002: cancellation and timeouts
//
// # Service
//
// [Service] runs imports in the background behind an [ImportLimiter],
// broadcasts [ImportProgress] to subscribers and forgets finished runs
// after a TTL.
package core
