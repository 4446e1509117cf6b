package network

import (
	"time"

	"github.com/beevik/ntp"
)

// queryNTP performs one 48 byte request/response exchange with host and
// returns the corrected local time
func queryNTP(host string, timeout time.Duration) (time.Time, error) {
	resp, err := ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return time.Time{}, err
	}
	if err := resp.Validate(); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(resp.ClockOffset), nil
}
