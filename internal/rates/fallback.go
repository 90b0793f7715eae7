package rates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed fallback_rates.yaml
var defaultFallback []byte

// Table é a tabela estática ativo → USD.
type Table map[string]decimal.Decimal

type tableFile struct {
	Rates map[string]string `yaml:"rates"`
}

// DefaultTable retorna a tabela embutida no binário.
func DefaultTable() Table {
	t, err := ParseTable(defaultFallback)
	if err != nil {
		panic(fmt.Sprintf("embedded fallback rates: %v", err))
	}
	return t
}

// LoadTable lê uma tabela YAML do disco.
func LoadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback rates: %w", err)
	}
	return ParseTable(b)
}

func ParseTable(b []byte) (Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode fallback rates: %w", err)
	}
	t := make(Table, len(f.Rates))
	for asset, raw := range f.Rates {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", asset, err)
		}
		if !v.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", asset)
		}
		t[strings.ToUpper(asset)] = v
	}
	return t, nil
}
