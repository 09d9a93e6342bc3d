package checkout

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-core/internal/settlement"
)

// idSource hands out strictly increasing millisecond stamps so two checkouts
// in the same process never share an invoice id.
type idSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (s *idSource) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}

// OrderID formats a product order id: "O" plus the base36 stamp, uppercase.
func OrderID(ms int64) string {
	return "O" + strings.ToUpper(strconv.FormatInt(ms, 36))
}

// DepositID formats a top-up invoice id.
func DepositID(ms int64) string {
	return settlement.DepositPrefix + strconv.FormatInt(ms, 10)
}

// RentID formats a storefront rental order id.
func RentID(ms int64) string {
	return "R" + strings.ToUpper(strconv.FormatInt(ms, 36))
}
