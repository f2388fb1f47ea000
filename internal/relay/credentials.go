package relay

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/1ureka/mentorcall/internal/config"
	"github.com/1ureka/mentorcall/internal/protocol"
)

// IssueCredentials builds time-limited relay credentials in the TURN REST
// form: username "<unix expiry>:<userId>", credential
// base64(HMAC-SHA1(secret, username)). Public STUN servers are always
// included; relay URLs only when a secret is configured.
func IssueCredentials(secret string, userID protocol.ID, ttl time.Duration, urls []string, now time.Time) protocol.Credentials {
	creds := protocol.Credentials{
		ICEServers: []protocol.ICEServer{{URLs: append([]string(nil), config.DefaultSTUN...)}},
		TTL:        int(ttl / time.Second),
	}
	if secret == "" || len(urls) == 0 {
		return creds
	}

	username := strconv.FormatInt(now.Add(ttl).Unix(), 10) + ":" + string(userID)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))

	creds.ICEServers = append(creds.ICEServers, protocol.ICEServer{
		URLs:       append([]string(nil), urls...),
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	})
	return creds
}
