package loyalty

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_TierName(t *testing.T) {
	catalog, err := NewCatalog(map[string]map[string]string{
		"en":    {"Lead": "Lead", "Silver": "Silver"},
		"pt-BR": {"Lead": "Chumbo", "Silver": "Prata"},
		"es":    {"Silver": "Plata"},
	})
	require.NoError(t, err)

	tests := []struct {
		locale string
		tier   string
		want   string
	}{
		{"pt-BR", "Silver", "Prata"},
		{"pt", "Lead", "Chumbo"},
		{"es-MX", "Silver", "Plata"},
		{"es", "Lead", "Lead"},
		{"fr", "Silver", "Silver"},
		{"", "Lead", "Lead"},
		{"fr-CH, pt;q=0.9", "Silver", "Prata"},
		{"pt-BR", "Gold", "Gold"},
	}

	for _, tt := range tests {
		t.Run(tt.locale+"/"+tt.tier, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.TierName(tt.locale, tt.tier))
		})
	}
}

func TestCatalog_Nil(t *testing.T) {
	var catalog *Catalog
	assert.Equal(t, "Gold", catalog.TierName("pt-BR", "Gold"))
}

func TestNewCatalog_InvalidLocale(t *testing.T) {
	_, err := NewCatalog(map[string]map[string]string{"not a locale!": {"Lead": "x"}})
	assert.Error(t, err)
}
