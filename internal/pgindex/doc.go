// Package pgindex keeps a Postgres copy of the segment index using pgvector
// for the vector pass and a generated tsvector column for the lexical pass.
//
// It is selected with retrieval.backend = "postgres". SQLite stays the
// system of record: the indexer writes there first and mirrors each
// committed segment set here.
package pgindex
