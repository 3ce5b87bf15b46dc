package boardsync

import (
	"errors"

	"bitbucket.org/strandworks/salonsync_backend/config"
)

// authHaltKey holds the reason sync is halted. The key has no TTL: once
// calendar credentials fail, no cycle starts until an operator fixes them and
// clears the flag through POST /api/admin/unhalt.
const authHaltKey = "boardsync:auth_halt"

var ErrSyncHalted = errors.New("sync halted until calendar credentials are refreshed")

// SetAuthHalt latches the halt flag with the failure that caused it.
func SetAuthHalt(reason string) error {
	if reason == "" {
		reason = "calendar authorization failed"
	}
	return config.SetRedisValue(authHaltKey, reason, 0)
}

// AuthHalted reports whether the halt flag is set and why.
func AuthHalted() (bool, string) {
	reason, found, err := config.GetRedisValue(authHaltKey)
	if err != nil || !found {
		return false, ""
	}
	return true, reason
}

// ClearAuthHalt lets cycles run again.
func ClearAuthHalt() error {
	return config.RemoveRedisKey(authHaltKey)
}
