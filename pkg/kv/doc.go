/*
Package kv defines the ordered key-value contract the database consumes.

# Store Interface

The database core never touches disk formats directly. It is a schema
over any engine that provides:

  - named partitions (independent sorted namespaces)
  - point Get/Put
  - atomic multi-partition write batches
  - snapshot reads with prefix and range iteration
  - Flush and Close

Two implementations ship with the module:

  - badgerkv: BadgerDB (LSM tree), the durable production engine
  - memkv: in-memory B-trees, for tests and ephemeral workloads

# Why Pluggable?

Swapping the engine changes durability and performance, not semantics.
Tests run against memkv with zero setup; production runs against
badgerkv; an mmap- or FFI-backed engine can be dropped in without
touching the schema, the filter language, or the query engine.

# Ordering

Iterators always walk keys in ascending lexicographic byte order.
The schema layer is responsible for encoding keys so that the order it
wants (for example newest-sample-first) coincides with byte order.
*/
package kv
