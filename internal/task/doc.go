// Package task defines the crawl task domain: records, scraped items, the
// error taxonomy shared across layers, and the ports the orchestrator, status
// reader and HTTP layer depend on.
package task
