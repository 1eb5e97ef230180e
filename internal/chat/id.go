package chat

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idSuffixLen = 9

// NewMessageID returns "<unix millis>_<9 base36 chars>". The suffix is drawn
// from a random UUID so ids minted within the same millisecond do not collide.
func NewMessageID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "_" + randomSuffix()
}

func randomSuffix() string {
	u := uuid.New()
	s := new(big.Int).SetBytes(u[:]).Text(36)
	if len(s) < idSuffixLen {
		s = strings.Repeat("0", idSuffixLen-len(s)) + s
	}
	return s[len(s)-idSuffixLen:]
}
