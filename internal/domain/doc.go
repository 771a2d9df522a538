// Package domain models DC moving-violation citations and daily weather
// observations destined for the shared ingestion store.
//
// # Data Sources
//
// Violations originate from the DC GIS open-data MapServer
// (https://maps2.dcgis.dc.gov). The publisher splits the dataset into one
// ArcGIS service per calendar year (Violations_Moving_2024, _2025, ...) and
// one layer per month within each service. Query responses carry each
// citation as a schema-less "attributes" JSON object whose values may be
// numbers, numeric strings, nulls, or NaN; typing happens here, at
// normalization time, against an explicit field-mapping table.
//
// Weather observations originate from the Visual Crossing timeline API, one
// "days" entry per calendar day for the configured location.
//
// # Source Conventions
//
// ISSUE_DATE:
//
//	Millisecond epoch in UTC. The calendar-date component becomes
//	violation_date; the full instant is stored as issue_date.
//
// OBJECTID:
//
//	Positive integer identifier unique within a month's layer. Combined
//	with the issue month it forms the citation's stable primary key.
//
// Weather gaps:
//
//	A day the timeline API cannot provide is still stored, with every
//	metric NULL and conditions set to the "missing_from_api" sentinel, so
//	date joins against violations never hit a hole.
//
// # Derivations
//
// violation_date is the UTC calendar date of issue_date. month is the
// 7-character "YYYY-MM" prefix of violation_date. is_rain is true when
// measurable precipitation was recorded (precip > 0) or the conditions text
// contains a rain token, matched case-insensitively.
//
// # ID Generation
//
// Violation IDs are deterministic: "{YYYY-MM}_{OBJECTID}", e.g.
// "2024-10_4183627". Re-normalizing the same raw record always yields the
// same ID, which is what makes upserts idempotent and replays safe.
package domain
