// Package rollinglog keeps the captured output of the supervised miner.
//
// A Writer appends whole lines, optionally rotating through lumberjack.
// Tail, TailLines and ContainsFold read the end of the file without
// disturbing the writer, and Follow streams new lines as they arrive
// (including across rotation) using fsnotify.
package rollinglog
