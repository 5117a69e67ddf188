package match

import (
	"testing"

	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/domain"
)

func TestFindBestMatch_KeywordAndCityScoring(t *testing.T) {
	merchantID := uuid.New()
	merchants := []domain.Merchant{
		{ID: merchantID, Name: "Boulangerie Dupont", IsActive: true},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{
			MerchantID: merchantID,
			Keywords:   []string{"boulangerie", "dupont"},
			CityTokens: []string{"bayonne"},
		},
	})

	result := FindBestMatch("BOULANGERIE DUPONT BAYONNE CB", merchants, index)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.MerchantID != merchantID {
		t.Fatalf("expected merchant %s, got %s", merchantID, result.MerchantID)
	}
	if result.Score != 5 {
		t.Fatalf("expected score 2+2+1=5, got %d", result.Score)
	}
}

func TestFindBestMatch_ZeroScoreMerchantsAreExcluded(t *testing.T) {
	matching := uuid.New()
	unrelated := uuid.New()
	merchants := []domain.Merchant{
		{ID: unrelated, Name: "Pizzeria Luigi", IsActive: true},
		{ID: matching, Name: "Boulangerie Dupont", IsActive: true},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{MerchantID: unrelated, Keywords: []string{"pizzeria", "luigi"}},
		{MerchantID: matching, Keywords: []string{"dupont"}},
	})

	result := FindBestMatch("DUPONT PARIS", merchants, index)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.MerchantID != matching {
		t.Fatalf("zero-score merchant must not win: got %s", result.MerchantID)
	}
	if result.Score != 2 {
		t.Fatalf("expected score 2, got %d", result.Score)
	}
}

func TestFindBestMatch_InactiveMerchantNeverSelected(t *testing.T) {
	inactive := uuid.New()
	merchants := []domain.Merchant{
		{ID: inactive, Name: "Boulangerie Dupont", IsActive: false},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{
			MerchantID: inactive,
			Keywords:   []string{"boulangerie", "dupont"},
			CityTokens: []string{"bayonne"},
		},
	})

	if result := FindBestMatch("BOULANGERIE DUPONT BAYONNE CB", merchants, index); result != nil {
		t.Fatalf("inactive merchant must never match, got %+v", result)
	}
}

func TestFindBestMatch_NoMatchAndEmptyDescriptor(t *testing.T) {
	merchantID := uuid.New()
	merchants := []domain.Merchant{
		{ID: merchantID, Name: "Boulangerie Dupont", IsActive: true},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{MerchantID: merchantID, Keywords: []string{"boulangerie"}},
	})

	if result := FindBestMatch("SUPERMARCHE CENTRAL", merchants, index); result != nil {
		t.Fatalf("expected no match, got %+v", result)
	}
	if result := FindBestMatch("", merchants, index); result != nil {
		t.Fatalf("empty descriptor must not match, got %+v", result)
	}
	if result := FindBestMatch("!!!***", merchants, index); result != nil {
		t.Fatalf("descriptor normalizing to empty must not match, got %+v", result)
	}
}

func TestFindBestMatch_TiesKeepFirstEncountered(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	merchants := []domain.Merchant{
		{ID: first, Name: "Dupont Nord", IsActive: true},
		{ID: second, Name: "Dupont Sud", IsActive: true},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{MerchantID: first, Keywords: []string{"dupont"}},
		{MerchantID: second, Keywords: []string{"dupont"}},
	})

	result := FindBestMatch("DUPONT CB", merchants, index)
	if result == nil {
		t.Fatal("expected a match")
	}
	if result.MerchantID != first {
		t.Fatalf("tie must keep the first merchant in input order, got %s", result.MerchantID)
	}
}

func TestFindBestMatch_MissingProfileMeansEmptyLists(t *testing.T) {
	merchantID := uuid.New()
	merchants := []domain.Merchant{
		{ID: merchantID, Name: "Boulangerie Dupont", IsActive: true},
	}

	if result := FindBestMatch("BOULANGERIE DUPONT", merchants, BuildProfileIndex(nil)); result != nil {
		t.Fatalf("merchant without a profile must score zero, got %+v", result)
	}
}

func TestFindBestMatch_AccentedKeywordsNormalizeBothSides(t *testing.T) {
	merchantID := uuid.New()
	merchants := []domain.Merchant{
		{ID: merchantID, Name: "Café de la Gare", IsActive: true},
	}
	index := BuildProfileIndex([]domain.MerchantMatchProfile{
		{MerchantID: merchantID, Keywords: []string{"Café"}, CityTokens: []string{"Orléans"}},
	})

	result := FindBestMatch("CAFE DE LA GARE ORLEANS", merchants, index)
	if result == nil {
		t.Fatal("expected accent-folded keywords to match")
	}
	if result.Score != 3 {
		t.Fatalf("expected score 2+1=3, got %d", result.Score)
	}
}
