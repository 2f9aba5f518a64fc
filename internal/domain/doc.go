// Package domain models weather feed timestamps, layer state and alert zones.
//
// # Timestamps
//
// Every feed publishes frames named by a local wall-clock timestamp in the
// fixed form YYYYMMDD-HHMMSS, e.g. "20240426-151000". The fixed width makes
// lexical order chronological, so lists are sorted as plain strings.
//
// Feeds do not share a cadence: radar may publish every 5 minutes, METAR
// stations hourly, alerts whenever they are issued. A timeline position is
// matched to each product with [Closest]: both sides are truncated to the
// minute, the nearest candidate wins, and a candidate further away than the
// product's tolerance is no match at all. Equidistant candidates resolve to
// the earlier frame, so the result does not depend on list order.
//
// Tolerances:
//
//	METAR products:          90 minutes
//	alert/warning products: 120 minutes
//	everything else:         10 minutes
//
// Per-product overrides are layered on top by [ToleranceTable].
//
// # Zones
//
// Alerts reference areas by geocode. UGC codes ("TXC453", "OKZ025") are used
// as-is after upper-casing. Six-digit SAME codes ("048453": subdivision,
// state FIPS, county FIPS) are rewritten to the county UGC form via a static
// FIPS-to-postal table; a state prefix missing from that table yields
// [ErrUnmappedFIPS] and the zone is treated as permanently absent.
package domain
