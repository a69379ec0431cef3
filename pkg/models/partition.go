// Package models defines the core Thorium domain entities shared by the
// reaction/job engine, the columnar store, and the API server.
package models

import "time"

// Partition identifies the coarse-grained time shard a stream row belongs
// to. Result stream rows (output_streams) and tag census counts
// (census_counts) carry (kind, group, year, bucket); the tags and
// commitishes tables have no year or bucket columns.
type Partition struct {
	Year   int `json:"year"`
	Bucket int `json:"bucket"`
}

// PartitionSize controls how many days map into one bucket within a year.
// It must be identical for writers and readers; changing it requires a
// rebuild of the materialized stream tables.
type PartitionSize int

// DefaultPartitionSize buckets a year into roughly weekly slices.
const DefaultPartitionSize PartitionSize = 7

// PartitionOf derives the (year, bucket) pair for a timestamp given a
// partition size expressed in days.
func PartitionOf(ts time.Time, size PartitionSize) Partition {
	if size <= 0 {
		size = DefaultPartitionSize
	}
	yearStart := time.Date(ts.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	days := int(ts.UTC().Sub(yearStart).Hours() / 24)
	return Partition{
		Year:   ts.Year(),
		Bucket: days / int(size),
	}
}
