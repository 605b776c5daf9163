// Package crawler defines the job-posting data model and the contracts shared
// by source adapters, scan strategies, the ingestion queue and the job store.
package crawler
