package features

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haukened/rr-dnsml/internal/ml/domain"
)

func TestExtract_KnownVectors(t *testing.T) {
	e := Default()

	tests := []struct {
		name string
		in   string
		want domain.FeatureVector
	}{
		{"empty", "", domain.FeatureVector{0, 1, 0, 0, 0}},
		{"ads.google.com", "ads.google.com", domain.FeatureVector{14, 3, 0, 1, 0}},
		{"promo.clickhub.xyz", "promo.clickhub.xyz", domain.FeatureVector{18, 3, 0, 2, 1}},
		{"uppercase is lowered", "ADS.Google.COM", domain.FeatureVector{14, 3, 0, 1, 0}},
		{"digit run", "cdn42.example.com", domain.FeatureVector{17, 3, 1, 0, 0}},
		{"single digits are not a run", "a1b2c3.example.com", domain.FeatureVector{18, 3, 0, 0, 0}},
		{"overlapping keywords both count", "doubleclick.net", domain.FeatureVector{15, 2, 0, 2, 0}},
		{"no dot means no tld", "click", domain.FeatureVector{5, 1, 0, 1, 0}},
		{"tld click", "foo.click", domain.FeatureVector{9, 2, 0, 1, 1}},
		{"trailing dot gives empty tld", "example.info.", domain.FeatureVector{13, 3, 0, 0, 0}},
		{"google.com", "google.com", domain.FeatureVector{10, 2, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Extract(tt.in))
		})
	}
}

func TestExtract_AlwaysValid(t *testing.T) {
	e := Default()
	inputs := []string{
		"",
		".",
		"...",
		"\xff\xfe\xfd",
		"日本語.テスト",
		strings.Repeat("a", 10_000),
		"1234567890",
		" spaced domain .com ",
		"\x00\x01",
	}
	for _, in := range inputs {
		v := e.Extract(in)
		assert.True(t, v.Valid(), "Extract(%q) = %v", in, v)
		assert.Len(t, v, domain.FeatureCount)
	}
}

func TestExtract_RuneLength(t *testing.T) {
	v := Default().Extract("bücher.de")
	assert.Equal(t, 9.0, v[domain.FeatureLength])
}

func TestNew_CustomSets(t *testing.T) {
	e := New(Options{
		Keywords:       []string{" Pixel ", "pixel", "", "SPY"},
		SuspiciousTLDs: []string{".TK", "gq"},
	})
	assert.Equal(t, []string{"pixel", "spy"}, e.Keywords())
	assert.Equal(t, []string{"gq", "tk"}, e.SuspiciousTLDs())

	v := e.Extract("spy.pixel.tk")
	assert.Equal(t, 2.0, v[domain.FeatureKeywordHitCount])
	assert.Equal(t, 1.0, v[domain.FeatureSuspiciousTLD])

	// defaults no longer apply
	v = e.Extract("ads.promo.xyz")
	assert.Equal(t, 0.0, v[domain.FeatureKeywordHitCount])
	assert.Equal(t, 0.0, v[domain.FeatureSuspiciousTLD])
}

func TestNew_EmptySetsDisableFeatures(t *testing.T) {
	e := New(Options{Keywords: []string{}, SuspiciousTLDs: []string{}})
	v := e.Extract("ads.tracker.xyz")
	assert.Equal(t, domain.FeatureVector{15, 3, 0, 0, 0}, v)
}

func TestDefault_KeywordAndTLDSets(t *testing.T) {
	e := Default()
	assert.Equal(t, DefaultKeywords, e.Keywords())
	assert.Equal(t, []string{"click", "info", "top", "xyz"}, e.SuspiciousTLDs())
}

func TestExtractBatch(t *testing.T) {
	got := Default().ExtractBatch([]string{"google.com", "ads.google.com"})
	assert.Equal(t, []domain.FeatureVector{{10, 2, 0, 0, 0}, {14, 3, 0, 1, 0}}, got)
	assert.Empty(t, Default().ExtractBatch(nil))
}

func TestExtractDomain_Canonicalizes(t *testing.T) {
	e := Default()
	want := e.Extract("ads.tracker.net")
	for _, in := range []string{"ads.tracker.net", "ads.tracker.net.", " ADS.Tracker.Net.. "} {
		assert.Equal(t, want, e.ExtractDomain(in), in)
	}
	assert.Equal(t, domain.FeatureVector{15, 3, 0, 2, 0}, want)
	assert.Equal(t, []domain.FeatureVector{want, want}, e.ExtractDomains([]string{"ads.tracker.net.", "Ads.Tracker.Net"}))
}

func TestHasDigitRun(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"1", false},
		{"12", true},
		{"a1a2", false},
		{"x99y", true},
		{"٣٤", false}, // non-ASCII digits are ignored
	}
	for _, tt := range tests {
		if got := hasDigitRun(tt.in, 2); got != tt.want {
			t.Errorf("hasDigitRun(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
