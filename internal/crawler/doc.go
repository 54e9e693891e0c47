// Package crawler implements the breadth-first frontier traversal used by the
// ingest pipeline: URL normalization, link extraction, robots.txt governance,
// per-origin politeness, fetch retries, and the orchestrating Crawler.
package crawler
