/**
 * @description
 * Merchant matching. Scores every active merchant's keyword and city-token
 * lists against a normalized bank descriptor and returns the best-scoring
 * merchant, if any. Keywords weigh 2, city tokens weigh 1: a city name alone
 * should never outrank an actual merchant keyword hit.
 */

package match

import (
	"strings"

	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/domain"
)

// Keyword and city-token hit weights.
const (
	keywordPoints   = 2
	cityTokenPoints = 1
)

// Result is a scored merchant match.
type Result struct {
	MerchantID uuid.UUID
	Score      int
}

// ProfileIndex maps merchant ids to their match profiles. It is built once
// per sync run and is read-only for the duration of the run.
type ProfileIndex map[uuid.UUID]domain.MerchantMatchProfile

// BuildProfileIndex keys the given profiles by merchant id.
func BuildProfileIndex(profiles []domain.MerchantMatchProfile) ProfileIndex {
	index := make(ProfileIndex, len(profiles))
	for _, p := range profiles {
		index[p.MerchantID] = p
	}
	return index
}

// FindBestMatch scores every active merchant against the descriptor and
// returns the one with the strictly highest score, or nil when nothing
// scores above zero. Ties keep whichever merchant was encountered first in
// the input order.
func FindBestMatch(descriptor string, merchants []domain.Merchant, index ProfileIndex) *Result {
	normalized := Normalize(descriptor)
	if normalized == "" {
		return nil
	}

	var best *Result
	for _, merchant := range merchants {
		if !merchant.IsActive {
			continue
		}

		profile := index[merchant.ID] // missing entry yields empty lists

		score := 0
		for _, keyword := range profile.Keywords {
			if token := Normalize(keyword); token != "" && strings.Contains(normalized, token) {
				score += keywordPoints
			}
		}
		for _, city := range profile.CityTokens {
			if token := Normalize(city); token != "" && strings.Contains(normalized, token) {
				score += cityTokenPoints
			}
		}

		if score == 0 {
			continue
		}
		if best == nil || score > best.Score {
			best = &Result{MerchantID: merchant.ID, Score: score}
		}
	}

	return best
}
