package push

import (
	"encoding/json"
	"strings"
)

const (
	idenKeyPrefix         = "iden:"
	notificationKeyPrefix = "notification:"
)

// IdentityKey returns the deduplication key of a record. Records with an iden
// are keyed by it; everything else is keyed by the notification coordinates
// encoded as a JSON array in a fixed order, absent fields as "". The prefixes
// keep the two key spaces from colliding.
func IdentityKey(r Record) string {
	if iden := strings.TrimSpace(r.Iden); iden != "" {
		return idenKeyPrefix + iden
	}
	fields := [4]string{
		r.NotificationID,
		r.NotificationTag,
		r.PackageName,
		r.SourceUserIden,
	}
	// Marshalling a fixed-size string array cannot fail.
	encoded, _ := json.Marshal(fields)
	return notificationKeyPrefix + string(encoded)
}
