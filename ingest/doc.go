// Package ingest turns stored documents into indexed, embedded chunks.
//
// The pipeline fetches a document from blob storage, extracts its text with
// the configured extraction pipeline, splits the text into overlapping
// chunks, embeds each chunk, and upserts the embedded chunks into the vector
// store in bounded batches. Chunk IDs derive from document set, filename,
// and chunk index, so ingesting the same document twice replaces its chunks
// instead of duplicating them. Redelivered ingestion tasks are therefore
// safe to run again.
package ingest
