package domain

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
)

// ZoneGeometry is the resolved shape of an alert zone. Geometry is nil when
// the zone is known to have no shape upstream.
type ZoneGeometry struct {
	Code     string       `json:"code"`
	Centroid orb.Point    `json:"centroid"`
	Geometry orb.Geometry `json:"-"`
}

// ZoneFetcher loads zone geometry by UGC code. It returns ErrNotFound when
// the upstream has no such zone.
type ZoneFetcher interface {
	FetchZoneGeometry(ctx context.Context, code string) (orb.Geometry, error)
}

// sameCodeRe matches a 6-digit SAME geocode: P SS CCC (subdivision, state FIPS, county FIPS).
var sameCodeRe = regexp.MustCompile(`^\d{6}$`)

// stateFIPS maps state FIPS prefixes to USPS abbreviations used in UGC codes.
var stateFIPS = map[string]string{
	"01": "AL", "02": "AK", "04": "AZ", "05": "AR", "06": "CA", "08": "CO",
	"09": "CT", "10": "DE", "11": "DC", "12": "FL", "13": "GA", "15": "HI",
	"16": "ID", "17": "IL", "18": "IN", "19": "IA", "20": "KS", "21": "KY",
	"22": "LA", "23": "ME", "24": "MD", "25": "MA", "26": "MI", "27": "MN",
	"28": "MS", "29": "MO", "30": "MT", "31": "NE", "32": "NV", "33": "NH",
	"34": "NJ", "35": "NM", "36": "NY", "37": "NC", "38": "ND", "39": "OH",
	"40": "OK", "41": "OR", "42": "PA", "44": "RI", "45": "SC", "46": "SD",
	"47": "TN", "48": "TX", "49": "UT", "50": "VT", "51": "VA", "53": "WA",
	"54": "WV", "55": "WI", "56": "WY", "60": "AS", "66": "GU", "69": "MP",
	"72": "PR", "78": "VI",
}

// NormalizeZoneCode uppercases a geocode and converts SAME codes to their
// county UGC form, e.g. "048453" -> "TXC453".
func NormalizeZoneCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !sameCodeRe.MatchString(code) {
		return code, nil
	}
	state, ok := stateFIPS[code[1:3]]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnmappedFIPS, code)
	}
	return state + "C" + code[3:], nil
}
