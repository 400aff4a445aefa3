package transaction

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/curdata-project/walletframework/pkg/helpers"
)

// generateTXID builds a transaction id as the decimal wall-clock second
// concatenated with 16 lowercase hex characters of cryptographically strong
// random bytes (spec §4.5). Collision is treated as negligibly rare; no
// deduplication is performed (open question in spec §9, resolved as "ignore").
func generateTXID() (string, error) {
	raw, err := helpers.GenerateSecureRandom(8)
	if err != nil {
		return "", err
	}
	second := strconv.FormatInt(time.Now().Unix(), 10)
	return second + hex.EncodeToString(raw), nil
}
