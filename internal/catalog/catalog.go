// Package catalog содержит каталог пакетов кредитов.
package catalog

import (
	"errors"
	"sort"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

// ErrBundleNotFound возвращается при запросе неизвестного пакета.
var ErrBundleNotFound = errors.New("bundle not found")

// Catalog предоставляет доступ к неизменяемому набору пакетов кредитов.
// Каталог конструируется один раз при старте процесса и передаётся явно:
// цена и количество кредитов пакета — единственный источник истины для начислений.
type Catalog struct {
	bundles map[string]model.Bundle
}

// New создаёт каталог из переданного набора пакетов.
func New(bundles ...model.Bundle) *Catalog {
	m := make(map[string]model.Bundle, len(bundles))
	for _, b := range bundles {
		m[b.ID] = b
	}
	return &Catalog{bundles: m}
}

// Default возвращает каталог с пакетами, продаваемыми в продакшене.
func Default() *Catalog {
	return New(
		model.Bundle{
			ID:       "starter",
			Name:     "Starter",
			Price:    499,
			Credits:  2,
			Currency: "eur",
		},
		model.Bundle{
			ID:       "value",
			Name:     "Value",
			Price:    1999,
			Credits:  10,
			Currency: "eur",
		},
	)
}

// Get возвращает пакет по идентификатору.
func (c *Catalog) Get(id string) (model.Bundle, error) {
	b, ok := c.bundles[id]
	if !ok {
		return model.Bundle{}, ErrBundleNotFound
	}
	return b, nil
}

// List возвращает все пакеты каталога, отсортированные по цене.
func (c *Catalog) List() []model.Bundle {
	res := make([]model.Bundle, 0, len(c.bundles))
	for _, b := range c.bundles {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Price < res[j].Price })
	return res
}
