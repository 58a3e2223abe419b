// Package indexer splits a stored transcript into fixed-size word windows,
// embeds each window through the gateway and replaces the media item's
// segment set in one transaction.
//
// Windowing starts at the content-start offset and is a pure function of the
// transcript text, the cues and the window size, so re-indexing unchanged
// text reproduces identical boundaries.
package indexer
