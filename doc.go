/*
Package rivet implements a low-level key/value store in pure Go. It supports
fully serializable transactions, ACID semantics, and lock-free MVCC with
multiple readers and a single writer. Rivet can be used for projects that
want a simple data store without the need to add large dependencies such as
Postgres or MySQL.

Rivet is a single-level, zero-copy, B+tree data store. This means that Rivet
is optimized for fast read access and does not require recovery in the event
of a system crash. Transactions which have not finished committing will
simply be rolled back in the event of a crash.

The design of Rivet is based on Howard Chu's LMDB project.

Basics

There are only a few types in Rivet: DB, Bucket, Tx, and Cursor. The DB is
a collection of buckets and is represented by a single file on disk. A
bucket is a collection of unique keys that are associated with values.
Buckets can be nested inside other buckets to any depth.

Transactions provide a consistent view of the database. They can be used
for retrieving, setting, and deleting values and for iterating over keys in
order. Only one read/write transaction can be in use at a time.

Caveats

The database uses a read-only, memory-mapped data file to ensure that
applications cannot corrupt the database, however, this means that keys and
values returned from Rivet cannot be changed. Writing to a read-only byte
slice will cause Go to panic. If you need to alter data returned from a
transaction you need to first copy it to a new byte slice.

Rivet currently works on Mac OS and Linux.

*/
package rivet
